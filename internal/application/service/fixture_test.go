package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/school-liquidation/internal/application/port"
	wf "github.com/garyjia/school-liquidation/internal/application/workflow"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/testutil"
)

// Monday 10 March 2025
var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// fakeNotifier records every attempted message
type fakeNotifier struct {
	mu       sync.Mutex
	messages []port.Message
	sendFunc func(ctx context.Context, msg port.Message) error
}

func (n *fakeNotifier) Send(ctx context.Context, msg port.Message) error {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	fn := n.sendFunc
	n.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}
	return nil
}

func (n *fakeNotifier) keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.messages))
	for _, m := range n.messages {
		keys = append(keys, m.Key)
	}
	return keys
}

var (
	operations = port.Recipient{Name: "Operations", Email: "ops@division.example"}
	legal      = port.Recipient{Name: "Legal", Email: "legal@division.example"}
	management = port.Recipient{Name: "Management", Email: "sds@division.example"}
)

type fixture struct {
	store         *testutil.Store
	clock         *testutil.Clock
	engine        wf.Engine
	notifier      *fakeNotifier
	notifications NotificationService
	reminders     ReminderService
	budget        BudgetNoticeService
	tick          TickService
}

type fixtureSetup struct {
	deps ReminderDeps
	cfg  ReminderConfig
}

type fixtureOption func(*fixtureSetup)

func withRenderer(r port.DemandLetterRenderer) fixtureOption {
	return func(s *fixtureSetup) { s.deps.Renderer = r }
}

func withBatchSize(n int) fixtureOption {
	return func(s *fixtureSetup) { s.cfg.BatchSize = n }
}

func newFixture(t *testing.T, now time.Time, opts ...fixtureOption) *fixture {
	t.Helper()

	store := testutil.NewStore(t)
	store.Seed(t)
	clock := testutil.NewClock(now)

	engine := wf.NewEngine(wf.Repositories{
		Requests:     store.Requests,
		Liquidations: store.Liquidations,
		Schools:      store.Schools,
		Directory:    store.Schools,
		Registry:     store.Registry,
		Documents:    store.Documents,
		Reminders:    store.Reminders,
		History:      store.History,
	}, store.DB, clock)

	notifier := &fakeNotifier{}
	notifications := NewNotificationService(notifier, store.Schools, NotificationConfig{
		Operations:     []port.Recipient{operations},
		Legal:          []port.Recipient{legal},
		Management:     []port.Recipient{management},
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	}, nopLogger{})

	setup := fixtureSetup{
		deps: ReminderDeps{
			Requests:      store.Requests,
			Liquidations:  store.Liquidations,
			Schools:       store.Schools,
			Directory:     store.Schools,
			Reminders:     store.Reminders,
			Engine:        engine,
			Notifications: notifications,
			Clock:         clock,
		},
		cfg: ReminderConfig{BatchSize: 50, ClaimLease: 10 * time.Minute, Concurrency: 2},
	}
	for _, opt := range opts {
		opt(&setup)
	}

	cfg := setup.cfg
	reminders := NewReminderService(setup.deps, cfg, nopLogger{})
	budget := NewBudgetNoticeService(store.BudgetNotice, notifications, clock, cfg.ClaimLease, nopLogger{})

	return &fixture{
		store:         store,
		clock:         clock,
		engine:        engine,
		notifier:      notifier,
		notifications: notifications,
		reminders:     reminders,
		budget:        budget,
		tick:          NewTickService(store.Requests, store.Liquidations, engine, reminders, budget, cfg, nopLogger{}),
	}
}

func suppliesItems(amount string) []entity.LineItem {
	return []entity.LineItem{{CategoryID: testutil.CategorySupplies, Amount: decimal.RequireFromString(amount)}}
}

// downloaded walks a fresh request of the fixture head through approval and download
func (f *fixture) downloaded(t *testing.T) (*entity.Request, *entity.Liquidation) {
	t.Helper()
	return f.downloadedBy(t, testutil.Actor(testutil.HeadID))
}

func (f *fixture) downloadedBy(t *testing.T, head domainwf.Actor) (*entity.Request, *entity.Liquidation) {
	t.Helper()
	ctx := context.Background()

	req, err := f.engine.CreateRequest(ctx, head, wf.CreateRequestInput{Items: suppliesItems("1000.00")})
	require.NoError(t, err)
	_, err = f.engine.ApproveRequest(ctx, testutil.Actor(testutil.SuperID), req.Code)
	require.NoError(t, err)
	req, liq, err := f.engine.DownloadRequest(ctx, head, req.Code)
	require.NoError(t, err)
	return req, liq
}

// extraHead registers another school head at the fixture school
func (f *fixture) extraHead(t *testing.T, id string) domainwf.Actor {
	t.Helper()
	require.NoError(t, f.store.Schools.UpsertUser(context.Background(), &entity.User{
		ID:       id,
		Name:     "Head " + id,
		Email:    id + "@central.example",
		Role:     domainwf.RoleSchoolHead,
		SchoolID: testutil.SchoolID,
	}))
	return domainwf.Actor{ID: id, Role: domainwf.RoleSchoolHead}
}

// orphan stores a downloaded request that never got a liquidation, with its ladder
func (f *fixture) orphan(t *testing.T, downloadedAt time.Time) *entity.Request {
	t.Helper()
	ctx := context.Background()

	req := &entity.Request{
		Code:         entity.NewCode(entity.RequestCodePrefix),
		UserID:       testutil.OtherHeadID,
		SchoolID:     testutil.OtherSchoolID,
		TargetMonth:  entity.MonthOf(downloadedAt),
		Status:       entity.RequestDownloaded,
		Items:        suppliesItems("500"),
		DownloadedAt: &downloadedAt,
		CreatedAt:    downloadedAt,
		UpdatedAt:    downloadedAt,
	}
	require.NoError(t, f.store.Requests.Create(ctx, req))
	require.NoError(t, f.store.Reminders.Schedule(ctx, entity.NewLadder(req.Code, downloadedAt)))
	return req
}

func (f *fixture) statuses(t *testing.T, code string) map[string]entity.DispatchStatus {
	t.Helper()
	rows, err := f.store.Reminders.ListByRequest(context.Background(), code)
	require.NoError(t, err)

	out := make(map[string]entity.DispatchStatus, len(rows))
	for _, row := range rows {
		out[string(row.Kind)] = row.Status
	}
	return out
}
