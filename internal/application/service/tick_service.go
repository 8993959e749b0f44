package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// TickService runs the daily maintenance pass
type TickService interface {
	DailyTick(ctx context.Context) (*TickReport, error)
}

// TickReport summarizes one daily tick. Deferred counts advanced requests whose
// month arrived while the owner still had another active request; they stay
// advanced until that one closes and are not item failures.
type TickReport struct {
	Reclassified     int
	Deferred         int
	RefreshedLiqs    int
	Recovered        *RecoverReport
	BudgetNoticeSent bool
	ItemFailures     int
}

type tickServiceImpl struct {
	requests     port.RequestRepository
	liquidations port.LiquidationRepository
	engine       WorkflowEngine
	reminders    ReminderService
	budget       BudgetNoticeService
	batchSize    int
	concurrency  int
	logger       Logger
}

// NewTickService creates a new TickService
func NewTickService(
	requests port.RequestRepository,
	liquidations port.LiquidationRepository,
	engine WorkflowEngine,
	reminders ReminderService,
	budget BudgetNoticeService,
	cfg ReminderConfig,
	logger Logger,
) TickService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &tickServiceImpl{
		requests:     requests,
		liquidations: liquidations,
		engine:       engine,
		reminders:    reminders,
		budget:       budget,
		batchSize:    cfg.BatchSize,
		concurrency:  cfg.Concurrency,
		logger:       logger,
	}
}

// DailyTick reclassifies advanced requests, refreshes open liquidations, recovers
// the scheduler and sends the budget notice when due. Steps run even if an
// earlier one failed.
func (s *tickServiceImpl) DailyTick(ctx context.Context) (*TickReport, error) {
	report := &TickReport{}
	var errs []error

	if err := s.reclassify(ctx, report); err != nil {
		errs = append(errs, err)
	}
	if err := s.refresh(ctx, report); err != nil {
		errs = append(errs, err)
	}

	recovered, err := s.reminders.Recover(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("recover reminders: %w", err))
	}
	report.Recovered = recovered

	sent, err := s.budget.Run(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.BudgetNoticeSent = sent

	s.logger.Info("Daily tick completed",
		"reclassified", report.Reclassified,
		"deferred", report.Deferred,
		"refreshed_liquidations", report.RefreshedLiqs,
		"budget_notice_sent", report.BudgetNoticeSent,
		"item_failures", report.ItemFailures)

	return report, errors.Join(errs...)
}

func (s *tickServiceImpl) reclassify(ctx context.Context, report *TickReport) error {
	list := func(ctx context.Context, after port.Cursor, limit int) ([]*entity.Request, error) {
		return s.requests.ListByStatus(ctx, []domainwf.State{entity.RequestAdvanced}, after, limit)
	}

	var deferred atomic.Int64
	err := walkPages(ctx, s.batchSize, list, requestCursor, func(page []*entity.Request) error {
		changed, err := s.each(ctx, requestCodes(page), report, func(ctx context.Context, code string) (bool, error) {
			req, err := s.engine.Reclassify(ctx, code)
			if errors.Is(err, domainwf.ErrActiveRequestExists) {
				deferred.Add(1)
				s.logger.Info("Advanced request waits for the active one to close", "code", code)
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return req.Status != entity.RequestAdvanced, nil
		})
		report.Reclassified += changed
		return err
	})
	report.Deferred += int(deferred.Load())
	if err != nil {
		return fmt.Errorf("reclassify advanced requests: %w", err)
	}
	return nil
}

func (s *tickServiceImpl) refresh(ctx context.Context, report *TickReport) error {
	err := walkPages(ctx, s.batchSize, s.liquidations.ListOpen, liquidationCursor, func(page []*entity.Liquidation) error {
		codes := make([]string, 0, len(page))
		for _, liq := range page {
			codes = append(codes, liq.Code)
		}

		refreshed, err := s.each(ctx, codes, report, func(ctx context.Context, code string) (bool, error) {
			if _, err := s.engine.RefreshLiquidation(ctx, code); err != nil {
				return false, err
			}
			return true, nil
		})
		report.RefreshedLiqs += refreshed
		return err
	})
	if err != nil {
		return fmt.Errorf("refresh open liquidations: %w", err)
	}
	return nil
}

// each runs fn over codes with bounded parallelism and returns how many calls
// reported a change. Item failures are logged and counted, not returned.
func (s *tickServiceImpl) each(ctx context.Context, codes []string, report *TickReport, fn func(context.Context, string) (bool, error)) (int, error) {
	var (
		mu      sync.Mutex
		changed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, code := range codes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := fn(gctx, code)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.ItemFailures++
				s.logger.Error("Daily tick item failed", "code", code, "error", err)
				return nil
			}
			if ok {
				changed++
			}
			return nil
		})
	}
	err := g.Wait()
	return changed, err
}
