package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/service"
)

const (
	ReminderWorkerName  = "ReminderWorker"
	DailyTickWorkerName = "DailyTickWorker"
)

// NewReminderWorker polls the reminder ladder for due rows
func NewReminderWorker(reminders service.ReminderService, interval time.Duration, logger *zap.Logger) *TickerWorker {
	return NewTickerWorker(ReminderWorkerName, interval, func(ctx context.Context) error {
		_, err := reminders.FireDue(ctx)
		return err
	}, logger)
}

// NewDailyTickWorker runs the daily maintenance pass. Every step is idempotent,
// so running it more often than daily is harmless.
func NewDailyTickWorker(tick service.TickService, interval time.Duration, logger *zap.Logger) *TickerWorker {
	return NewTickerWorker(DailyTickWorkerName, interval, func(ctx context.Context) error {
		_, err := tick.DailyTick(ctx)
		return err
	}, logger)
}
