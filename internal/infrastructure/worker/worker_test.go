package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/service"
	"github.com/garyjia/school-liquidation/internal/domain/deadline"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
)

type fakeReminders struct {
	calls atomic.Int32
}

func (f *fakeReminders) FireDue(ctx context.Context) (*service.FireReport, error) {
	f.calls.Add(1)
	return &service.FireReport{}, nil
}

func (f *fakeReminders) Fire(ctx context.Context, requestCode string, kind deadline.Kind) (entity.DispatchStatus, error) {
	return "", nil
}

func (f *fakeReminders) Recover(ctx context.Context) (*service.RecoverReport, error) {
	return &service.RecoverReport{}, nil
}

func TestTickerWorker_RunsImmediatelyAndOnInterval(t *testing.T) {
	var calls atomic.Int32
	w := NewTickerWorker("test", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "second start should fail")

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "no passes after Stop")
	assert.Equal(t, int(stopped), w.Runs())
}

func TestTickerWorker_CountsFailures(t *testing.T) {
	w := NewTickerWorker("failing", time.Hour, func(ctx context.Context) error {
		return errors.New("database locked")
	}, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	assert.Eventually(t, func() bool { return w.Runs() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
	assert.Equal(t, 1, w.Failures())
}

func TestTickerWorker_RejectsZeroInterval(t *testing.T) {
	w := NewTickerWorker("zero", 0, func(ctx context.Context) error { return nil }, zap.NewNop())
	assert.Error(t, w.Start(context.Background()))
}

func TestManager_StartStop(t *testing.T) {
	reminders := &fakeReminders{}
	m := NewManager(zap.NewNop())
	m.Register(NewReminderWorker(reminders, time.Hour, zap.NewNop()))
	assert.Equal(t, 1, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	assert.Eventually(t, func() bool { return reminders.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	require.NoError(t, m.StopAll())
}
