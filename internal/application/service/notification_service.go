package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/deadline"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// Logger interface for service logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NotificationService composes workflow notifications and delivers them
type NotificationService interface {
	NotifyReminder(ctx context.Context, req *entity.Request, kind deadline.Kind) error
	NotifyDemandLetter(ctx context.Context, req *entity.Request, liq *entity.Liquidation, attachment string, issuedAt time.Time) error
	NotifyBudgetNotice(ctx context.Context, year int) error
	NotifyTest(ctx context.Context, channel port.Channel, text string) error
}

// NotificationConfig holds the static audiences and the retry budget
type NotificationConfig struct {
	Operations     []port.Recipient
	Legal          []port.Recipient
	Management     []port.Recipient
	MaxRetries     int
	InitialBackoff time.Duration
}

type notificationServiceImpl struct {
	notifier  port.Notifier
	directory port.Directory
	cfg       NotificationConfig
	logger    Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	notifier port.Notifier,
	directory port.Directory,
	cfg NotificationConfig,
	logger Logger,
) NotificationService {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &notificationServiceImpl{
		notifier:  notifier,
		directory: directory,
		cfg:       cfg,
		logger:    logger,
	}
}

// NotifyReminder sends one rung of the deadline ladder to the owner and operations
func (s *notificationServiceImpl) NotifyReminder(ctx context.Context, req *entity.Request, kind deadline.Kind) error {
	owner, err := s.owner(ctx, req)
	if err != nil {
		return err
	}

	due := deadline.Deadline(req.DownloadedAt)
	if due == nil {
		return fmt.Errorf("request %s has no download date", req.Code)
	}

	var subject string
	if kind.Label() == 0 {
		subject = fmt.Sprintf("Liquidation of %s is due today", req.Code)
	} else {
		subject = fmt.Sprintf("%d day(s) left to liquidate %s", kind.Label(), req.Code)
	}

	body := fmt.Sprintf(
		"Cash advance %s for %s (amount %s) must be liquidated by %s.\nSubmit the liquidation with its supporting documents before the deadline.",
		req.Code,
		req.TargetMonth,
		req.Total().StringFixed(2),
		due.Format("2006-01-02 15:04 MST"),
	)

	return s.deliver(ctx, port.Message{
		Key:        fmt.Sprintf("reminder:%s:%s", req.Code, kind),
		Template:   port.TemplateReminder,
		Channel:    port.ChannelOperations,
		Subject:    subject,
		Body:       body,
		Recipients: merge([]port.Recipient{owner}, s.cfg.Operations),
	})
}

// NotifyDemandLetter sends the formal day-31 demand on the legal channel
func (s *notificationServiceImpl) NotifyDemandLetter(ctx context.Context, req *entity.Request, liq *entity.Liquidation, attachment string, issuedAt time.Time) error {
	owner, err := s.owner(ctx, req)
	if err != nil {
		return err
	}

	state := "no liquidation was filed"
	if liq != nil {
		state = fmt.Sprintf("liquidation %s is still %s", liq.Code, liq.Status)
	}

	body := fmt.Sprintf(
		"Demand to liquidate cash advance %s for %s (amount %s).\nThe 30-day liquidation period lapsed and %s.\nIssued %s.",
		req.Code,
		req.TargetMonth,
		req.Total().StringFixed(2),
		state,
		issuedAt.Format("2006-01-02"),
	)

	msg := port.Message{
		Key:        fmt.Sprintf("reminder:%s:%s", req.Code, deadline.KindDemandLetter),
		Template:   port.TemplateDemandLetter,
		Channel:    port.ChannelLegal,
		Subject:    fmt.Sprintf("Demand letter: unliquidated cash advance %s", req.Code),
		Body:       body,
		Recipients: merge([]port.Recipient{owner}, s.cfg.Legal, s.cfg.Management),
	}
	if attachment != "" {
		msg.Attachments = []string{attachment}
	}
	return s.deliver(ctx, msg)
}

// NotifyBudgetNotice announces the yearly budget cycle to operations and every school head
func (s *notificationServiceImpl) NotifyBudgetNotice(ctx context.Context, year int) error {
	heads, err := s.directory.ListByRole(ctx, domainwf.RoleSchoolHead)
	if err != nil {
		return fmt.Errorf("list school heads: %w", err)
	}

	recipients := append([]port.Recipient(nil), s.cfg.Operations...)
	for _, u := range heads {
		recipients = merge(recipients, []port.Recipient{recipientOf(u)})
	}

	return s.deliver(ctx, port.Message{
		Key:        fmt.Sprintf("budget-notice:%d", year),
		Template:   port.TemplateBudgetNotice,
		Channel:    port.ChannelOperations,
		Subject:    fmt.Sprintf("Budget preparation for %d", year),
		Body:       fmt.Sprintf("The %d budget cycle is open. Prepare the monthly cash advance plan of your school.", year),
		Recipients: recipients,
	})
}

// NotifyTest sends a test message to a channel's audience
func (s *notificationServiceImpl) NotifyTest(ctx context.Context, channel port.Channel, text string) error {
	recipients := s.cfg.Operations
	if channel == port.ChannelLegal {
		recipients = merge(s.cfg.Legal, s.cfg.Management)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients configured for channel %s", channel)
	}

	return s.deliver(ctx, port.Message{
		Key:        fmt.Sprintf("test:%d", time.Now().UnixNano()),
		Template:   port.TemplateTest,
		Channel:    channel,
		Subject:    "Notification test",
		Body:       text,
		Recipients: recipients,
	})
}

// deliver sends msg, retrying transient failures with exponential backoff. When
// the notifier reports per-recipient failures only the recipients that failed
// transiently are retried; permanent ones are logged and dropped. Delivery fails
// if transient failures outlast the retries or nobody received the message.
func (s *notificationServiceImpl) deliver(ctx context.Context, msg port.Message) error {
	var (
		attempt   int
		delivered int
		permanent []error
	)
	pending := msg
	op := func() error {
		attempt++
		err := s.notifier.Send(ctx, pending)
		if err == nil {
			delivered += len(pending.Recipients)
			return nil
		}

		var partial *port.DeliveryError
		if errors.As(err, &partial) {
			delivered += partial.Delivered
			var retry []port.Recipient
			for _, f := range partial.Failures {
				if domainwf.IsTransient(f.Err) {
					retry = append(retry, f.Recipient)
					continue
				}
				permanent = append(permanent, f.Err)
			}
			if len(retry) == 0 {
				return nil
			}
			pending.Recipients = retry
			s.logger.Info("Notification attempt failed", "key", msg.Key, "attempt", attempt, "retrying", len(retry), "error", err)
			return err
		}

		if !domainwf.IsTransient(err) {
			return backoff.Permanent(err)
		}
		s.logger.Info("Notification attempt failed", "key", msg.Key, "attempt", attempt, "error", err)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialBackoff
	retries := backoff.WithMaxRetries(policy, uint64(max(s.cfg.MaxRetries, 0)))

	if err := backoff.Retry(op, backoff.WithContext(retries, ctx)); err != nil {
		s.logger.Error("Notification delivery failed", "key", msg.Key, "attempts", attempt, "error", err)
		return fmt.Errorf("send %s: %w", msg.Key, err)
	}

	if len(permanent) > 0 {
		err := errors.Join(permanent...)
		if delivered == 0 {
			s.logger.Error("Notification delivery failed", "key", msg.Key, "attempts", attempt, "error", err)
			return fmt.Errorf("send %s: %w", msg.Key, err)
		}
		s.logger.Error("Notification skipped unreachable recipients", "key", msg.Key, "unreachable", len(permanent), "error", err)
	}

	s.logger.Info("Notification sent", "key", msg.Key, "template", msg.Template, "recipients", delivered)
	return nil
}

func (s *notificationServiceImpl) owner(ctx context.Context, req *entity.Request) (port.Recipient, error) {
	user, err := s.directory.GetUser(ctx, req.UserID)
	if err != nil {
		return port.Recipient{}, fmt.Errorf("get owner: %w", err)
	}
	if user == nil {
		return port.Recipient{}, fmt.Errorf("%w: user %s", domainwf.ErrNotFound, req.UserID)
	}
	return recipientOf(user), nil
}

func recipientOf(u *entity.User) port.Recipient {
	return port.Recipient{Name: u.Name, Email: u.Email, LarkOpenID: u.LarkOpenID}
}

// merge concatenates recipient lists, dropping repeats
func merge(lists ...[]port.Recipient) []port.Recipient {
	seen := make(map[string]bool)
	var out []port.Recipient
	for _, list := range lists {
		for _, r := range list {
			key := strings.ToLower(r.Email) + "|" + r.LarkOpenID + "|" + r.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
		}
	}
	return out
}
