package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/deadline"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/testutil"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

// runSuite exercises every repository against a freshly seeded store. The same
// suite runs on SQLite and, under the integration tag, on Postgres.
func runSuite(t *testing.T, newStore func(t *testing.T) *testutil.Store) {
	t.Run("RequestRoundTrip", func(t *testing.T) { testRequestRoundTrip(t, newStore(t)) })
	t.Run("RequestStaleWrite", func(t *testing.T) { testRequestStaleWrite(t, newStore(t)) })
	t.Run("RequestUniqueness", func(t *testing.T) { testRequestUniqueness(t, newStore(t)) })
	t.Run("RequestPaging", func(t *testing.T) { testRequestPaging(t, newStore(t)) })
	t.Run("LiquidationDuplicate", func(t *testing.T) { testLiquidationDuplicate(t, newStore(t)) })
	t.Run("SchoolLastLiquidated", func(t *testing.T) { testSchoolLastLiquidated(t, newStore(t)) })
	t.Run("Registry", func(t *testing.T) { testRegistry(t, newStore(t)) })
	t.Run("Documents", func(t *testing.T) { testDocuments(t, newStore(t)) })
	t.Run("ReminderLadder", func(t *testing.T) { testReminderLadder(t, newStore(t)) })
	t.Run("BudgetNotice", func(t *testing.T) { testBudgetNotice(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("TransactionRollback", func(t *testing.T) { testTransactionRollback(t, newStore(t)) })
}

func newRequest(userID, schoolID string, month entity.Month, status workflow.State) *entity.Request {
	return &entity.Request{
		Code:        entity.NewCode(entity.RequestCodePrefix),
		UserID:      userID,
		SchoolID:    schoolID,
		TargetMonth: month,
		Status:      status,
		Items: []entity.LineItem{
			{CategoryID: testutil.CategorySupplies, Amount: decimal.RequireFromString("750.25")},
			{CategoryID: testutil.CategoryTravel, Amount: decimal.RequireFromString("249.75")},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

var march = entity.Month{Year: 2025, Month: time.March}

func testRequestRoundTrip(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	req := newRequest(testutil.HeadID, testutil.SchoolID, march, entity.RequestPending)
	require.NoError(t, s.Requests.Create(ctx, req))
	assert.Equal(t, int64(1), req.Version)

	got, err := s.Requests.Get(ctx, req.Code)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, march, got.TargetMonth)
	assert.Equal(t, entity.RequestPending, got.Status)
	assert.Nil(t, got.DownloadedAt)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Total().Equal(decimal.NewFromInt(1000)))

	missing, err := s.Requests.Get(ctx, "REQ-MISSING")
	require.NoError(t, err)
	assert.Nil(t, missing)

	downloaded := t0.Add(time.Hour)
	got.Status = entity.RequestUnliquidated
	got.DownloadedAt = &downloaded
	got.Items = got.Items[:1]
	require.NoError(t, s.Requests.Update(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)

	again, err := s.Requests.Get(ctx, req.Code)
	require.NoError(t, err)
	require.NotNil(t, again.DownloadedAt)
	assert.True(t, again.DownloadedAt.Equal(downloaded))
	assert.Len(t, again.Items, 1)

	active, err := s.Requests.FindActiveByUser(ctx, testutil.HeadID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, req.Code, active.Code)

	listed, err := s.Requests.ListByStatus(ctx, []workflow.State{entity.RequestUnliquidated, entity.RequestAdvanced}, port.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, req.Code, listed[0].Code)
}

func testRequestStaleWrite(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	req := newRequest(testutil.HeadID, testutil.SchoolID, march, entity.RequestPending)
	require.NoError(t, s.Requests.Create(ctx, req))

	first, err := s.Requests.Get(ctx, req.Code)
	require.NoError(t, err)
	second, err := s.Requests.Get(ctx, req.Code)
	require.NoError(t, err)

	first.Status = entity.RequestApproved
	require.NoError(t, s.Requests.Update(ctx, first, first.Version))

	second.Status = entity.RequestRejected
	err = s.Requests.Update(ctx, second, second.Version)
	assert.ErrorIs(t, err, workflow.ErrStaleWrite)

	stored, err := s.Requests.Get(ctx, req.Code)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestApproved, stored.Status)
}

func testRequestUniqueness(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	first := newRequest(testutil.HeadID, testutil.SchoolID, march, entity.RequestPending)
	require.NoError(t, s.Requests.Create(ctx, first))

	april := newRequest(testutil.HeadID, testutil.SchoolID, march.Next(), entity.RequestPending)
	assert.ErrorIs(t, s.Requests.Create(ctx, april), workflow.ErrActiveRequestExists)

	first.Status = entity.RequestLiquidated
	require.NoError(t, s.Requests.Update(ctx, first, first.Version))

	sameMonth := newRequest(testutil.HeadID, testutil.SchoolID, march, entity.RequestAdvanced)
	assert.ErrorIs(t, s.Requests.Create(ctx, sameMonth), workflow.ErrDuplicateMonth)

	byMonth, err := s.Requests.FindByUserMonth(ctx, testutil.HeadID, march)
	require.NoError(t, err)
	require.NotNil(t, byMonth)
	assert.Equal(t, first.Code, byMonth.Code)

	rejected := newRequest(testutil.OtherHeadID, testutil.OtherSchoolID, march, entity.RequestRejected)
	require.NoError(t, s.Requests.Create(ctx, rejected))
	retry := newRequest(testutil.OtherHeadID, testutil.OtherSchoolID, march, entity.RequestPending)
	assert.NoError(t, s.Requests.Create(ctx, retry), "a rejected request does not hold its month")
}

func testRequestPaging(t *testing.T, s *testutil.Store) {
	ctx := context.Background()

	// rejected requests hold neither the active slot nor their month
	var want []string
	for i, created := range []time.Time{t0, t0, t0.Add(time.Hour)} {
		req := newRequest(testutil.HeadID, testutil.SchoolID, entity.Month{Year: 2025, Month: time.Month(i + 1)}, entity.RequestRejected)
		req.CreatedAt = created
		require.NoError(t, s.Requests.Create(ctx, req))
		want = append(want, req.Code)
	}
	if want[1] < want[0] {
		want[0], want[1] = want[1], want[0]
	}

	statuses := []workflow.State{entity.RequestRejected}
	first, err := s.Requests.ListByStatus(ctx, statuses, port.Cursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	last := first[len(first)-1]
	second, err := s.Requests.ListByStatus(ctx, statuses, port.Cursor{CreatedAt: last.CreatedAt, Code: last.Code}, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, want, []string{first[0].Code, first[1].Code, second[0].Code})
}

func createDownloaded(t *testing.T, s *testutil.Store) *entity.Request {
	t.Helper()
	req := newRequest(testutil.HeadID, testutil.SchoolID, march, entity.RequestUnliquidated)
	downloaded := t0
	req.DownloadedAt = &downloaded
	require.NoError(t, s.Requests.Create(context.Background(), req))
	return req
}

func newLiquidation(req *entity.Request) *entity.Liquidation {
	return &entity.Liquidation{
		Code:        entity.NewCode(entity.LiquidationCodePrefix),
		RequestCode: req.Code,
		Status:      entity.LiquidationDraft,
		Items:       append([]entity.LineItem(nil), req.Items...),
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

func testLiquidationDuplicate(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	req := createDownloaded(t, s)

	liq := newLiquidation(req)
	days := 30
	liq.RemainingDays = &days
	require.NoError(t, s.Liquidations.Create(ctx, liq))
	assert.ErrorIs(t, s.Liquidations.Create(ctx, newLiquidation(req)), workflow.ErrDuplicateLiquidation)

	byReq, err := s.Liquidations.GetByRequest(ctx, req.Code)
	require.NoError(t, err)
	require.NotNil(t, byReq)
	assert.Equal(t, liq.Code, byReq.Code)
	require.NotNil(t, byReq.RemainingDays)
	assert.Equal(t, 30, *byReq.RemainingDays)
	assert.Nil(t, byReq.Refund)

	refund := decimal.RequireFromString("12.50")
	byReq.Refund = &refund
	byReq.Status = entity.LiquidationSubmitted
	require.NoError(t, s.Liquidations.Update(ctx, byReq, byReq.Version))
	assert.ErrorIs(t, s.Liquidations.Update(ctx, byReq, 1), workflow.ErrStaleWrite)

	open, err := s.Liquidations.ListOpen(ctx, port.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NotNil(t, open[0].Refund)
	assert.True(t, open[0].Refund.Equal(refund))
}

func testSchoolLastLiquidated(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	school, err := s.Schools.Get(ctx, testutil.SchoolID)
	require.NoError(t, err)
	_, ok := school.LastLiquidated()
	assert.False(t, ok)

	require.NoError(t, s.Schools.UpdateLastLiquidated(ctx, school, march, school.Version))
	assert.ErrorIs(t, s.Schools.UpdateLastLiquidated(ctx, school, march.Next(), 1), workflow.ErrStaleWrite)

	stored, err := s.Schools.Get(ctx, testutil.SchoolID)
	require.NoError(t, err)
	last, ok := stored.LastLiquidated()
	require.True(t, ok)
	assert.Equal(t, march, last)

	reviewers, err := s.Schools.ListByRole(ctx, workflow.RoleDivisionReviewer)
	require.NoError(t, err)
	require.Len(t, reviewers, 1)
	assert.Equal(t, testutil.DivisionID, reviewers[0].ID)
}

func testRegistry(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	unknown, err := s.Registry.UnknownCategories(ctx, []string{testutil.CategorySupplies, "food", testutil.CategoryTravel})
	require.NoError(t, err)
	assert.Equal(t, []string{"food"}, unknown)

	reqs, err := s.Registry.Requirements(ctx, []string{testutil.CategoryTravel})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, testutil.CategoryTravel, r.CategoryID)
		assert.True(t, r.Required)
	}
}

func testDocuments(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	req := createDownloaded(t, s)
	liq := newLiquidation(req)
	require.NoError(t, s.Liquidations.Create(ctx, liq))

	doc := &entity.Document{
		LiquidationCode: liq.Code,
		CategoryID:      testutil.CategorySupplies,
		RequirementID:   testutil.ReqSuppliesReceipt,
		FileKey:         "evidence/v1.pdf",
		UploadedAt:      t0,
	}
	v1, err := s.Documents.Upload(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNo)

	require.NoError(t, s.Documents.Review(ctx, v1.DocumentID, entity.DocumentRejected, testutil.DistrictID, "blurry", t0.Add(time.Hour)))

	doc.FileKey = "evidence/v2.pdf"
	v2, err := s.Documents.Upload(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNo)
	assert.Equal(t, v1.DocumentID, v2.DocumentID)

	stored, err := s.Documents.FindByKey(ctx, liq.Code, testutil.CategorySupplies, testutil.ReqSuppliesReceipt)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, entity.DocumentPending, stored.Status)
	assert.Equal(t, "evidence/v2.pdf", stored.FileKey)

	versions, err := s.Documents.ListVersions(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, entity.DocumentRejected, versions[0].Status)
	assert.Equal(t, "blurry", versions[0].Comment)
	assert.Equal(t, entity.DocumentPending, versions[1].Status)
}

func testReminderLadder(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	req := createDownloaded(t, s)

	ladder := entity.NewLadder(req.Code, t0)
	require.NoError(t, s.Reminders.Schedule(ctx, ladder))
	require.NoError(t, s.Reminders.Schedule(ctx, entity.NewLadder(req.Code, t0)), "rescheduling is a no-op")

	rows, err := s.Reminders.ListByRequest(ctx, req.Code)
	require.NoError(t, err)
	require.Len(t, rows, len(deadline.Kinds()))
	assert.Equal(t, deadline.KindDay10, rows[0].Kind)
	assert.True(t, rows[0].DueAt.Equal(t0.Add(20*24*time.Hour)))

	due, err := s.Reminders.ListDue(ctx, t0.Add(25*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, deadline.KindDay5, due[1].Kind)

	claimed, err := s.Reminders.Claim(ctx, req.Code, deadline.KindDay10, t0)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = s.Reminders.Claim(ctx, req.Code, deadline.KindDay10, t0)
	require.NoError(t, err)
	assert.False(t, claimed, "a firing row cannot be claimed twice")

	released, err := s.Reminders.ReleaseStale(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	claimed, err = s.Reminders.Claim(ctx, req.Code, deadline.KindDay10, t0.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.Reminders.Complete(ctx, req.Code, deadline.KindDay10, entity.DispatchSent, "", t0.Add(time.Hour)))

	row, err := s.Reminders.Get(ctx, req.Code, deadline.KindDay10)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchSent, row.Status)
	assert.Equal(t, 2, row.Attempts)
	require.NotNil(t, row.SentAt)

	superseded, err := s.Reminders.Supersede(ctx, req.Code, deadline.KindDay5)
	require.NoError(t, err)
	assert.True(t, superseded)

	suppressed, err := s.Reminders.SuppressPending(ctx, req.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(4), suppressed)

	due, err = s.Reminders.ListDue(ctx, t0.Add(40*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func testBudgetNotice(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	require.NoError(t, s.BudgetNotice.Ensure(ctx, 2026))
	require.NoError(t, s.BudgetNotice.Ensure(ctx, 2026))

	claimed, err := s.BudgetNotice.Claim(ctx, 2026, t0)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.BudgetNotice.Complete(ctx, 2026, entity.DispatchMissed, "lark down", t0))

	n, err := s.BudgetNotice.Get(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchPending, n.Status)
	assert.Equal(t, "lark down", n.LastError)

	claimed, err = s.BudgetNotice.Claim(ctx, 2026, t0)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.BudgetNotice.Complete(ctx, 2026, entity.DispatchSent, "", t0))

	claimed, err = s.BudgetNotice.Claim(ctx, 2026, t0)
	require.NoError(t, err)
	assert.False(t, claimed)

	n, err = s.BudgetNotice.Get(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchSent, n.Status)
	assert.Equal(t, 2, n.Attempts)

	require.NoError(t, s.BudgetNotice.Ensure(ctx, 2028))
	claimed, err = s.BudgetNotice.Claim(ctx, 2028, t0)
	require.NoError(t, err)
	require.True(t, claimed)

	released, err := s.BudgetNotice.ReleaseStale(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, released, "claim is not older than the cutoff")

	released, err = s.BudgetNotice.ReleaseStale(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	claimed, err = s.BudgetNotice.Claim(ctx, 2028, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	none, err := s.BudgetNotice.Get(ctx, 2027)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testHistory(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	req := createDownloaded(t, s)

	for _, r := range []*entity.TransitionRecord{
		{EntityType: entity.EntityRequest, EntityCode: req.Code, FromStatus: entity.RequestPending, ToStatus: entity.RequestApproved, Trigger: "approve", ActorID: testutil.SuperID, ActorRole: workflow.RoleSuperintendent, CreatedAt: t0},
		{EntityType: entity.EntityRequest, EntityCode: req.Code, FromStatus: entity.RequestApproved, ToStatus: entity.RequestDownloaded, Trigger: "download", ActorID: testutil.HeadID, ActorRole: workflow.RoleSchoolHead, CreatedAt: t0},
	} {
		require.NoError(t, s.History.Create(ctx, r))
		assert.NotZero(t, r.ID)
	}

	records, err := s.History.ListByEntity(ctx, entity.EntityRequest, req.Code)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, workflow.Trigger("approve"), records[0].Trigger)
	assert.Equal(t, workflow.RoleSchoolHead, records[1].ActorRole)
}

func testTransactionRollback(t *testing.T, s *testutil.Store) {
	ctx := context.Background()
	req := newRequest(testutil.HeadID, testutil.SchoolID, march, entity.RequestPending)

	err := s.DB.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.Requests.Create(ctx, req); err != nil {
			return err
		}
		return workflow.ErrStaleWrite
	})
	require.ErrorIs(t, err, workflow.ErrStaleWrite)

	got, err := s.Requests.Get(ctx, req.Code)
	require.NoError(t, err)
	assert.Nil(t, got)
}
