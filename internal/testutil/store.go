// Package testutil builds a migrated temp-dir SQLite store with fixtures for
// package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/repository"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/school-liquidation/pkg/database"
)

// Fixture identities
const (
	SchoolID      = "S1"
	OtherSchoolID = "S2"

	HeadID      = "u-head"
	OtherHeadID = "u-head-2"
	SuperID     = "u-super"
	DistrictID  = "u-district"
	DivisionID  = "u-division"
	AdminID     = "u-admin"

	CategorySupplies = "supplies"
	CategoryTravel   = "travel"

	ReqSuppliesReceipt = "supplies-receipt"
	ReqSuppliesPhoto   = "supplies-photo"
	ReqTravelItinerary = "travel-itinerary"
	ReqTravelReceipt   = "travel-receipt"
)

// Store bundles the repositories over one database
type Store struct {
	DB           *sqldb.DB
	Requests     port.RequestRepository
	Liquidations port.LiquidationRepository
	Schools      *repository.SchoolRepository
	Registry     *repository.RegistryRepository
	Documents    port.DocumentRepository
	Reminders    port.ReminderRepository
	BudgetNotice port.BudgetNoticeRepository
	History      port.HistoryRepository
}

// NewStore opens a migrated SQLite database under t.TempDir
func NewStore(t testing.TB) *Store {
	t.Helper()

	ctx := context.Background()
	logger := zap.NewNop()

	db, err := database.New(ctx, database.Config{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "liquidation.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(ctx))

	return FromDB(sqldb.NewDB(db.DB, sqldb.SQLite, logger), logger)
}

// FromDB builds the repository bundle over an open database
func FromDB(db *sqldb.DB, logger *zap.Logger) *Store {
	return &Store{
		DB:           db,
		Requests:     repository.NewRequestRepository(db, logger),
		Liquidations: repository.NewLiquidationRepository(db, logger),
		Schools:      repository.NewSchoolRepository(db, logger),
		Registry:     repository.NewRegistryRepository(db, logger),
		Documents:    repository.NewDocumentRepository(db, logger),
		Reminders:    repository.NewReminderRepository(db, logger),
		BudgetNotice: repository.NewBudgetNoticeRepository(db, logger),
		History:      repository.NewHistoryRepository(db, logger),
	}
}

// Seed loads two schools, one user per role and a small requirement registry.
// Supplies needs a receipt; travel needs an itinerary and a receipt.
func (s *Store) Seed(t testing.TB) {
	t.Helper()
	ctx := context.Background()

	for _, school := range []*entity.School{
		{ID: SchoolID, Name: "Central Elementary"},
		{ID: OtherSchoolID, Name: "Riverside High"},
	} {
		require.NoError(t, s.Schools.Upsert(ctx, school))
	}

	for _, u := range []*entity.User{
		{ID: HeadID, Name: "Maria Santos", Email: "head@central.example", LarkOpenID: "ou_head", Role: workflow.RoleSchoolHead, SchoolID: SchoolID},
		{ID: OtherHeadID, Name: "Jose Reyes", Email: "head@riverside.example", Role: workflow.RoleSchoolHead, SchoolID: OtherSchoolID},
		{ID: SuperID, Name: "Ana Cruz", Email: "super@division.example", Role: workflow.RoleSuperintendent},
		{ID: DistrictID, Name: "Ben Lim", Email: "district@division.example", Role: workflow.RoleDistrictReviewer},
		{ID: DivisionID, Name: "Carla Diaz", Email: "division@division.example", Role: workflow.RoleDivisionReviewer},
		{ID: AdminID, Name: "Admin", Email: "admin@division.example", Role: workflow.RoleAdmin},
	} {
		require.NoError(t, s.Schools.UpsertUser(ctx, u))
	}

	for _, c := range []*entity.Category{
		{ID: CategorySupplies, Name: "Supplies"},
		{ID: CategoryTravel, Name: "Travel"},
	} {
		require.NoError(t, s.Registry.UpsertCategory(ctx, c))
	}

	for _, r := range []*entity.Requirement{
		{ID: ReqSuppliesReceipt, CategoryID: CategorySupplies, Name: "Official receipt", Required: true},
		{ID: ReqSuppliesPhoto, CategoryID: CategorySupplies, Name: "Delivery photo", Required: false},
		{ID: ReqTravelItinerary, CategoryID: CategoryTravel, Name: "Travel itinerary", Required: true},
		{ID: ReqTravelReceipt, CategoryID: CategoryTravel, Name: "Fare receipt", Required: true},
	} {
		require.NoError(t, s.Registry.UpsertRequirement(ctx, r))
	}
}

// Actor returns the fixture actor for a user id
func Actor(id string) workflow.Actor {
	roles := map[string]workflow.Role{
		HeadID:      workflow.RoleSchoolHead,
		OtherHeadID: workflow.RoleSchoolHead,
		SuperID:     workflow.RoleSuperintendent,
		DistrictID:  workflow.RoleDistrictReviewer,
		DivisionID:  workflow.RoleDivisionReviewer,
		AdminID:     workflow.RoleAdmin,
	}
	return workflow.Actor{ID: id, Role: roles[id]}
}
