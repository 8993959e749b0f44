package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
)

func TestIsFirstMondayOfJanuary(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"new year on monday", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), true},
		{"first monday after new year", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), true},
		{"sunday the seventh", time.Date(2029, 1, 7, 0, 0, 0, 0, time.UTC), false},
		{"seventh is monday", time.Date(2030, 1, 7, 23, 59, 0, 0, time.UTC), true},
		{"second monday", time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC), false},
		{"new year on wednesday", time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), false},
		{"first monday of february", time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC), false},
		// Sunday 5 Jan 2025 17:00 UTC is already Monday in Manila
		{"division time zone", time.Date(2025, 1, 5, 17, 0, 0, 0, time.UTC).In(manila), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFirstMondayOfJanuary(tt.at))
		})
	}
}

func TestBudgetNotice_SkipsOtherDays(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC))

	sent, err := f.budget.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)

	marker, err := f.store.BudgetNotice.Get(context.Background(), 2025)
	require.NoError(t, err)
	assert.Nil(t, marker)
	assert.Empty(t, f.notifier.keys())
}

func TestBudgetNotice_SentOncePerYear(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 6, 7, 0, 0, 0, time.UTC))
	ctx := context.Background()

	sent, err := f.budget.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	f.clock.Advance(time.Hour)
	sent, err = f.budget.Run(ctx)
	require.NoError(t, err)
	assert.False(t, sent)

	assert.Equal(t, []string{"budget-notice:2025"}, f.notifier.keys())

	msg := f.notifier.messages[0]
	assert.Equal(t, port.TemplateBudgetNotice, msg.Template)
	assert.Len(t, msg.Recipients, 3, "operations and both school heads")
	assert.Equal(t, operations, msg.Recipients[0])

	marker, err := f.store.BudgetNotice.Get(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchSent, marker.Status)
	require.NotNil(t, marker.SentAt)
}

func TestBudgetNotice_FailureIsRetriedLater(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 6, 7, 0, 0, 0, time.UTC))
	ctx := context.Background()

	f.notifier.sendFunc = func(ctx context.Context, msg port.Message) error {
		return errors.New("mail relay rejected message")
	}

	sent, err := f.budget.Run(ctx)
	require.Error(t, err)
	assert.False(t, sent)

	marker, err := f.store.BudgetNotice.Get(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchPending, marker.Status)
	assert.Contains(t, marker.LastError, "mail relay rejected message")

	f.notifier.sendFunc = nil
	f.clock.Advance(time.Hour)
	sent, err = f.budget.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	marker, err = f.store.BudgetNotice.Get(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchSent, marker.Status)
	assert.Equal(t, 2, marker.Attempts)
}

func TestBudgetNotice_AbandonedClaimIsRetriedAfterLease(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 6, 7, 0, 0, 0, time.UTC))
	ctx := context.Background()

	// a worker claimed the marker and died before completing it
	require.NoError(t, f.store.BudgetNotice.Ensure(ctx, 2025))
	claimed, err := f.store.BudgetNotice.Claim(ctx, 2025, f.clock.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	f.clock.Advance(time.Minute)
	sent, err := f.budget.Run(ctx)
	require.NoError(t, err)
	assert.False(t, sent, "claim is still within its lease")
	assert.Empty(t, f.notifier.keys())

	f.clock.Advance(10 * time.Minute)
	sent, err = f.budget.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{"budget-notice:2025"}, f.notifier.keys())

	marker, err := f.store.BudgetNotice.Get(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchSent, marker.Status)
	assert.Equal(t, 2, marker.Attempts)
}
