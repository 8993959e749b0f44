// Package notify holds delivery adapters that do not need an external service
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
)

// LogNotifier writes every message to the log. It is the default channel when no
// messaging platform is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg port.Message) error {
	addresses := make([]string, 0, len(msg.Recipients))
	for _, r := range msg.Recipients {
		switch {
		case r.Email != "":
			addresses = append(addresses, r.Email)
		case r.LarkOpenID != "":
			addresses = append(addresses, r.LarkOpenID)
		default:
			addresses = append(addresses, r.Name)
		}
	}

	n.logger.Info("Notification",
		zap.String("key", msg.Key),
		zap.String("template", string(msg.Template)),
		zap.String("channel", string(msg.Channel)),
		zap.String("subject", msg.Subject),
		zap.String("to", strings.Join(addresses, ",")),
		zap.Strings("attachments", msg.Attachments),
		zap.String("body", msg.Body))
	return nil
}

// FanOut sends each message through every notifier. It fails if any notifier fails,
// after trying all of them. When every failure is per-recipient the failures are
// merged into one *port.DeliveryError.
type FanOut struct {
	notifiers []port.Notifier
}

// NewFanOut creates a notifier that delivers through all of notifiers
func NewFanOut(notifiers ...port.Notifier) *FanOut {
	return &FanOut{notifiers: notifiers}
}

func (f *FanOut) Send(ctx context.Context, msg port.Message) error {
	var (
		errs     []error
		partials []*port.DeliveryError
	)
	for i, n := range f.notifiers {
		err := n.Send(ctx, msg)
		if err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))

		var partial *port.DeliveryError
		if errors.As(err, &partial) {
			partials = append(partials, partial)
		}
	}
	if len(errs) > 0 && len(partials) == len(errs) {
		return mergeDelivery(partials)
	}
	return errors.Join(errs...)
}

func mergeDelivery(partials []*port.DeliveryError) *port.DeliveryError {
	merged := &port.DeliveryError{}
	seen := make(map[port.Recipient]bool)
	for _, p := range partials {
		merged.Delivered = max(merged.Delivered, p.Delivered)
		for _, failure := range p.Failures {
			if seen[failure.Recipient] {
				continue
			}
			seen[failure.Recipient] = true
			merged.Failures = append(merged.Failures, failure)
		}
	}
	return merged
}
