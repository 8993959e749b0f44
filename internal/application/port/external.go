package port

//go:generate mockgen -source=external.go -destination=external_mock.go -package=port

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Clock supplies the current time in the division's time zone
type Clock interface {
	Now() time.Time
}

// Template names a notification body
type Template string

const (
	TemplateReminder     Template = "reminder"
	TemplateDemandLetter Template = "demand_letter"
	TemplateBudgetNotice Template = "budget_notice"
	TemplateTest         Template = "test"
)

// Channel selects the audience class of a message
type Channel string

const (
	ChannelOperations Channel = "operations"
	ChannelLegal      Channel = "legal"
)

// Recipient is one addressee of a notification
type Recipient struct {
	Name       string
	Email      string
	LarkOpenID string
}

// Message is a rendered notification ready for delivery
type Message struct {
	Key         string
	Template    Template
	Channel     Channel
	Subject     string
	Body        string
	Recipients  []Recipient
	Attachments []string
}

// Notifier delivers messages. Errors wrapping workflow.ErrTransientDependency may be retried.
// A notifier that addresses recipients one by one reports per-recipient failures
// as a *DeliveryError so a retry can skip the recipients already reached.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// RecipientFailure is one recipient a notifier could not reach
type RecipientFailure struct {
	Recipient Recipient
	Err       error
}

// DeliveryError reports the recipients of a message that failed. Delivered
// counts the recipients that did receive it.
type DeliveryError struct {
	Delivered int
	Failures  []RecipientFailure
}

func (e *DeliveryError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Err.Error())
	}
	return fmt.Sprintf("%d of %d recipients failed: %s",
		len(e.Failures), len(e.Failures)+e.Delivered, strings.Join(msgs, "; "))
}

func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// DemandLetter is the content of the formal day-31 demand notice
type DemandLetter struct {
	RequestCode  string
	SchoolID     string
	SchoolName   string
	OwnerName    string
	TargetMonth  string
	Amount       decimal.Decimal
	DownloadedAt time.Time
	Deadline     time.Time
	IssuedAt     time.Time
	Liquidation  string
	Status       string
}

// DemandLetterRenderer renders a demand letter document and returns its storage path
type DemandLetterRenderer interface {
	Render(ctx context.Context, letter DemandLetter) (string, error)
}
