package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wf "github.com/garyjia/school-liquidation/internal/application/workflow"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/testutil"
)

func TestDailyTick_ActivatesAdvancedRequests(t *testing.T) {
	f := newFixture(t, t0)
	ctx := context.Background()
	april := entity.Month{Year: 2025, Month: time.April}

	req, err := f.engine.CreateRequest(ctx, testutil.Actor(testutil.HeadID), wf.CreateRequestInput{
		TargetMonth: &april,
		Items:       suppliesItems("800"),
	})
	require.NoError(t, err)
	require.Equal(t, entity.RequestAdvanced, req.Status)

	report, err := f.tick.DailyTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Reclassified)

	f.clock.Set(time.Date(2025, 4, 1, 0, 5, 0, 0, time.UTC))
	report, err = f.tick.DailyTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reclassified)
	assert.Zero(t, report.ItemFailures)

	stored, err := f.engine.GetRequest(ctx, req.Code)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestPending, stored.Status)
}

func TestDailyTick_RefreshesRemainingDays(t *testing.T) {
	f := newFixture(t, t0)
	ctx := context.Background()
	_, liq := f.downloaded(t)
	require.Equal(t, 30, *liq.RemainingDays)

	f.clock.Advance(12*day + time.Hour)
	report, err := f.tick.DailyTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RefreshedLiqs)
	assert.Equal(t, 1, report.Recovered.Ensured)
	assert.False(t, report.BudgetNoticeSent)

	stored, err := f.engine.GetLiquidation(ctx, liq.Code)
	require.NoError(t, err)
	assert.Equal(t, 17, *stored.RemainingDays)
}

func TestDailyTick_SendsBudgetNoticeOnFirstMonday(t *testing.T) {
	f := newFixture(t, time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC))

	report, err := f.tick.DailyTick(context.Background())
	require.NoError(t, err)
	assert.True(t, report.BudgetNoticeSent)
	assert.Equal(t, []string{"budget-notice:2026"}, f.notifier.keys())
}

func TestDailyTick_WalksEveryPage(t *testing.T) {
	f := newFixture(t, t0, withBatchSize(2))
	ctx := context.Background()

	// all three downloads share one timestamp so paging has to break ties on code
	heads := []domainwf.Actor{
		testutil.Actor(testutil.HeadID),
		testutil.Actor(testutil.OtherHeadID),
		f.extraHead(t, "u-head-3"),
	}
	var liqs []*entity.Liquidation
	for _, head := range heads {
		_, liq := f.downloadedBy(t, head)
		liqs = append(liqs, liq)
	}

	f.clock.Advance(10*day + time.Hour)
	report, err := f.tick.DailyTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.RefreshedLiqs)
	assert.Equal(t, 3, report.Recovered.Ensured)
	assert.Zero(t, report.ItemFailures)

	for _, liq := range liqs {
		stored, err := f.engine.GetLiquidation(ctx, liq.Code)
		require.NoError(t, err)
		require.NotNil(t, stored.RemainingDays)
		assert.Equal(t, 19, *stored.RemainingDays, liq.Code)
	}
}

func TestDailyTick_ActivatesAdvancedRequestsPastOneBatch(t *testing.T) {
	f := newFixture(t, t0, withBatchSize(2))
	ctx := context.Background()
	april := entity.Month{Year: 2025, Month: time.April}

	heads := []domainwf.Actor{
		testutil.Actor(testutil.HeadID),
		testutil.Actor(testutil.OtherHeadID),
		f.extraHead(t, "u-head-3"),
	}
	var codes []string
	for _, head := range heads {
		req, err := f.engine.CreateRequest(ctx, head, wf.CreateRequestInput{TargetMonth: &april, Items: suppliesItems("800")})
		require.NoError(t, err)
		require.Equal(t, entity.RequestAdvanced, req.Status)
		codes = append(codes, req.Code)
	}

	f.clock.Set(time.Date(2025, 4, 1, 0, 5, 0, 0, time.UTC))
	report, err := f.tick.DailyTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Reclassified)

	for _, code := range codes {
		stored, err := f.engine.GetRequest(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, entity.RequestPending, stored.Status, code)
	}
}

func TestDailyTick_DefersActivationWhileAnotherRequestIsActive(t *testing.T) {
	f := newFixture(t, t0)
	ctx := context.Background()
	april := entity.Month{Year: 2025, Month: time.April}

	f.downloaded(t)
	advanced, err := f.engine.CreateRequest(ctx, testutil.Actor(testutil.HeadID), wf.CreateRequestInput{
		TargetMonth: &april,
		Items:       suppliesItems("800"),
	})
	require.NoError(t, err)
	require.Equal(t, entity.RequestAdvanced, advanced.Status)

	f.clock.Set(time.Date(2025, 4, 1, 0, 5, 0, 0, time.UTC))
	report, err := f.tick.DailyTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Reclassified)
	assert.Equal(t, 1, report.Deferred)
	assert.Zero(t, report.ItemFailures)

	stored, err := f.engine.GetRequest(ctx, advanced.Code)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestAdvanced, stored.Status)
}
