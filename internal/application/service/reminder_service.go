package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/deadline"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// WorkflowEngine is the part of the workflow engine the scheduled jobs drive
type WorkflowEngine interface {
	Reclassify(ctx context.Context, code string) (*entity.Request, error)
	ExpireRequest(ctx context.Context, code, reason string) (*entity.Request, error)
	RefreshLiquidation(ctx context.Context, code string) (*entity.Liquidation, error)
}

// ReminderService fires the reminder ladder and the demand letter
type ReminderService interface {
	// FireDue fires every ladder row whose due time has passed
	FireDue(ctx context.Context) (*FireReport, error)

	// Fire fires one ladder row. A row that is not pending is left alone and
	// its current status returned.
	Fire(ctx context.Context, requestCode string, kind deadline.Kind) (entity.DispatchStatus, error)

	// Recover releases abandoned claims and makes sure every open request has its ladder
	Recover(ctx context.Context) (*RecoverReport, error)
}

// ReminderConfig tunes the scheduler
type ReminderConfig struct {
	BatchSize   int
	ClaimLease  time.Duration
	Concurrency int
}

// FireReport counts the outcomes of one FireDue pass
type FireReport struct {
	Sent       int
	Suppressed int
	Missed     int
	Superseded int
	Skipped    int
}

// RecoverReport counts the work done by Recover
type RecoverReport struct {
	Released int64
	Ensured  int
}

type reminderServiceImpl struct {
	requests      port.RequestRepository
	liquidations  port.LiquidationRepository
	schools       port.SchoolRepository
	directory     port.Directory
	reminders     port.ReminderRepository
	engine        WorkflowEngine
	notifications NotificationService
	renderer      port.DemandLetterRenderer
	clock         port.Clock
	cfg           ReminderConfig
	logger        Logger
}

// ReminderDeps groups the collaborators of the reminder service
type ReminderDeps struct {
	Requests      port.RequestRepository
	Liquidations  port.LiquidationRepository
	Schools       port.SchoolRepository
	Directory     port.Directory
	Reminders     port.ReminderRepository
	Engine        WorkflowEngine
	Notifications NotificationService
	Renderer      port.DemandLetterRenderer
	Clock         port.Clock
}

// NewReminderService creates a new ReminderService
func NewReminderService(deps ReminderDeps, cfg ReminderConfig, logger Logger) ReminderService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 10 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &reminderServiceImpl{
		requests:      deps.Requests,
		liquidations:  deps.Liquidations,
		schools:       deps.Schools,
		directory:     deps.Directory,
		reminders:     deps.Reminders,
		engine:        deps.Engine,
		notifications: deps.Notifications,
		renderer:      deps.Renderer,
		clock:         deps.Clock,
		cfg:           cfg,
		logger:        logger,
	}
}

// FireDue groups due rows by request. Of the reminders due for one request only the
// most urgent is sent and the older ones are superseded; the demand letter always fires.
func (s *reminderServiceImpl) FireDue(ctx context.Context) (*FireReport, error) {
	due, err := s.reminders.ListDue(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}

	var order []string
	byRequest := make(map[string][]*entity.ReminderDispatch)
	for _, row := range due {
		if _, ok := byRequest[row.RequestCode]; !ok {
			order = append(order, row.RequestCode)
		}
		byRequest[row.RequestCode] = append(byRequest[row.RequestCode], row)
	}

	report := &FireReport{}
	var mu sync.Mutex
	count := func(status entity.DispatchStatus) {
		mu.Lock()
		defer mu.Unlock()
		switch status {
		case entity.DispatchSent:
			report.Sent++
		case entity.DispatchSuppressed:
			report.Suppressed++
		case entity.DispatchMissed:
			report.Missed++
		case entity.DispatchSuperseded:
			report.Superseded++
		default:
			report.Skipped++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, code := range order {
		rows := byRequest[code]
		g.Go(func() error {
			return s.fireGroup(gctx, code, rows, count)
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if len(due) > 0 {
		s.logger.Info("Due reminders processed",
			"due", len(due),
			"sent", report.Sent,
			"suppressed", report.Suppressed,
			"missed", report.Missed,
			"superseded", report.Superseded,
			"skipped", report.Skipped)
	}
	return report, nil
}

func (s *reminderServiceImpl) fireGroup(ctx context.Context, code string, rows []*entity.ReminderDispatch, count func(entity.DispatchStatus)) error {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Kind.Rank() < rows[j].Kind.Rank() })

	var latest, letter *entity.ReminderDispatch
	for _, row := range rows {
		if row.Kind.IsTerminal() {
			letter = row
		} else {
			latest = row
		}
	}

	for _, row := range rows {
		if row == latest || row == letter {
			continue
		}
		ok, err := s.reminders.Supersede(ctx, code, row.Kind)
		if err != nil {
			return fmt.Errorf("supersede %s/%s: %w", code, row.Kind, err)
		}
		if ok {
			count(entity.DispatchSuperseded)
		}
	}

	for _, row := range []*entity.ReminderDispatch{latest, letter} {
		if row == nil {
			continue
		}
		status, claimed, err := s.fire(ctx, code, row.Kind)
		if err != nil {
			return err
		}
		if !claimed {
			status = ""
		}
		count(status)
	}
	return nil
}

// Fire claims one row, re-checks the liquidation and sends the notice
func (s *reminderServiceImpl) Fire(ctx context.Context, requestCode string, kind deadline.Kind) (entity.DispatchStatus, error) {
	status, _, err := s.fire(ctx, requestCode, kind)
	return status, err
}

func (s *reminderServiceImpl) fire(ctx context.Context, requestCode string, kind deadline.Kind) (entity.DispatchStatus, bool, error) {
	now := s.clock.Now()

	claimed, err := s.reminders.Claim(ctx, requestCode, kind, now)
	if err != nil {
		return "", false, fmt.Errorf("claim %s/%s: %w", requestCode, kind, err)
	}
	if !claimed {
		row, err := s.reminders.Get(ctx, requestCode, kind)
		if err != nil {
			return "", false, fmt.Errorf("get %s/%s: %w", requestCode, kind, err)
		}
		if row == nil {
			return "", false, nil
		}
		return row.Status, false, nil
	}

	status, cause := s.dispatch(ctx, requestCode, kind, now)

	lastError := ""
	if cause != nil {
		lastError = cause.Error()
		s.logger.Error("Reminder missed", "request_code", requestCode, "kind", kind, "error", cause)
	}
	if err := s.reminders.Complete(ctx, requestCode, kind, status, lastError, s.clock.Now()); err != nil {
		return "", true, fmt.Errorf("complete %s/%s: %w", requestCode, kind, err)
	}

	s.logger.Info("Reminder resolved", "request_code", requestCode, "kind", kind, "status", status)
	return status, true, nil
}

// dispatch does the work of a claimed row and returns its final status
func (s *reminderServiceImpl) dispatch(ctx context.Context, code string, kind deadline.Kind, now time.Time) (entity.DispatchStatus, error) {
	req, err := s.requests.Get(ctx, code)
	if err != nil {
		return entity.DispatchMissed, fmt.Errorf("load request: %w", err)
	}
	if req == nil {
		return entity.DispatchMissed, fmt.Errorf("%w: request %s", domainwf.ErrNotFound, code)
	}

	liq, err := s.liquidations.GetByRequest(ctx, code)
	if err != nil {
		return entity.DispatchMissed, fmt.Errorf("load liquidation: %w", err)
	}

	if req.Status == entity.RequestLiquidated || (liq != nil && liq.Status == entity.LiquidationLiquidated) {
		return entity.DispatchSuppressed, nil
	}

	if !kind.IsTerminal() {
		if req.Status == entity.RequestExpired {
			return entity.DispatchSuppressed, nil
		}
		if err := s.notifications.NotifyReminder(ctx, req, kind); err != nil {
			return entity.DispatchMissed, err
		}
		return entity.DispatchSent, nil
	}

	if liq == nil && req.Status != entity.RequestExpired {
		expired, err := s.engine.ExpireRequest(ctx, code, "liquidation deadline lapsed")
		if err != nil {
			return entity.DispatchMissed, fmt.Errorf("expire request: %w", err)
		}
		req = expired
	}

	attachment := s.renderLetter(ctx, req, liq, now)
	if err := s.notifications.NotifyDemandLetter(ctx, req, liq, attachment, now); err != nil {
		return entity.DispatchMissed, err
	}
	return entity.DispatchSent, nil
}

// renderLetter produces the demand workbook. The notice goes out without it on failure.
func (s *reminderServiceImpl) renderLetter(ctx context.Context, req *entity.Request, liq *entity.Liquidation, now time.Time) string {
	if s.renderer == nil || req.DownloadedAt == nil {
		return ""
	}

	letter := port.DemandLetter{
		RequestCode:  req.Code,
		SchoolID:     req.SchoolID,
		SchoolName:   req.SchoolID,
		TargetMonth:  req.TargetMonth.String(),
		Amount:       req.Total(),
		DownloadedAt: *req.DownloadedAt,
		Deadline:     *deadline.Deadline(req.DownloadedAt),
		IssuedAt:     now,
		Status:       string(req.Status),
	}
	if school, err := s.schools.Get(ctx, req.SchoolID); err == nil && school != nil {
		letter.SchoolName = school.Name
	}
	if owner, err := s.directory.GetUser(ctx, req.UserID); err == nil && owner != nil {
		letter.OwnerName = owner.Name
	}
	if liq != nil {
		letter.Liquidation = liq.Code
		letter.Status = string(liq.Status)
	}

	path, err := s.renderer.Render(ctx, letter)
	if err != nil {
		s.logger.Error("Failed to render demand letter", "request_code", req.Code, "error", err)
		return ""
	}
	return path
}

// Recover resets rows whose claim outlived the lease and reschedules missing ladders
func (s *reminderServiceImpl) Recover(ctx context.Context) (*RecoverReport, error) {
	now := s.clock.Now()
	report := &RecoverReport{}

	released, err := s.reminders.ReleaseStale(ctx, now.Add(-s.cfg.ClaimLease))
	if err != nil {
		return nil, fmt.Errorf("release stale reminders: %w", err)
	}
	report.Released = released

	var errs []error
	list := func(ctx context.Context, after port.Cursor, limit int) ([]*entity.Request, error) {
		return s.requests.ListByStatus(ctx, []domainwf.State{entity.RequestDownloaded, entity.RequestUnliquidated}, after, limit)
	}
	err = walkPages(ctx, s.cfg.BatchSize, list, requestCursor, func(page []*entity.Request) error {
		for _, req := range page {
			if req.DownloadedAt == nil {
				continue
			}
			if err := s.reminders.Schedule(ctx, entity.NewLadder(req.Code, *req.DownloadedAt)); err != nil {
				errs = append(errs, fmt.Errorf("schedule %s: %w", req.Code, err))
				continue
			}
			report.Ensured++
		}
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("list open requests: %w", err))
	}

	if released > 0 {
		s.logger.Info("Released abandoned reminder claims", "count", released)
	}
	return report, errors.Join(errs...)
}
