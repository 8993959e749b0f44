package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
)

// BudgetNoticeService sends the yearly budget notice on the first Monday of January
type BudgetNoticeService interface {
	// Run sends the notice if today is the day and this year's marker is unclaimed.
	// It reports whether a notice went out.
	Run(ctx context.Context) (bool, error)
}

type budgetNoticeServiceImpl struct {
	notices       port.BudgetNoticeRepository
	notifications NotificationService
	clock         port.Clock
	lease         time.Duration
	logger        Logger
}

// NewBudgetNoticeService creates a new BudgetNoticeService. A claim older than
// lease is treated as abandoned and retried.
func NewBudgetNoticeService(
	notices port.BudgetNoticeRepository,
	notifications NotificationService,
	clock port.Clock,
	lease time.Duration,
	logger Logger,
) BudgetNoticeService {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &budgetNoticeServiceImpl{
		notices:       notices,
		notifications: notifications,
		clock:         clock,
		lease:         lease,
		logger:        logger,
	}
}

// IsFirstMondayOfJanuary evaluates t in its own location
func IsFirstMondayOfJanuary(t time.Time) bool {
	return t.Month() == time.January && t.Weekday() == time.Monday && t.Day() <= 7
}

func (s *budgetNoticeServiceImpl) Run(ctx context.Context) (bool, error) {
	now := s.clock.Now()
	if !IsFirstMondayOfJanuary(now) {
		return false, nil
	}
	year := now.Year()

	if err := s.notices.Ensure(ctx, year); err != nil {
		return false, fmt.Errorf("ensure budget notice %d: %w", year, err)
	}

	released, err := s.notices.ReleaseStale(ctx, now.Add(-s.lease))
	if err != nil {
		return false, fmt.Errorf("release budget notice %d: %w", year, err)
	}
	if released > 0 {
		s.logger.Info("Released abandoned budget notice claim", "year", year)
	}

	claimed, err := s.notices.Claim(ctx, year, now)
	if err != nil {
		return false, fmt.Errorf("claim budget notice %d: %w", year, err)
	}
	if !claimed {
		return false, nil
	}

	if sendErr := s.notifications.NotifyBudgetNotice(ctx, year); sendErr != nil {
		if err := s.notices.Complete(ctx, year, entity.DispatchMissed, sendErr.Error(), s.clock.Now()); err != nil {
			s.logger.Error("Failed to release budget notice", "year", year, "error", err)
		}
		return false, fmt.Errorf("budget notice %d: %w", year, sendErr)
	}

	if err := s.notices.Complete(ctx, year, entity.DispatchSent, "", s.clock.Now()); err != nil {
		return true, fmt.Errorf("complete budget notice %d: %w", year, err)
	}

	s.logger.Info("Budget notice sent", "year", year)
	return true, nil
}
