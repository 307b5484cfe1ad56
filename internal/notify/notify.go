// Package notify delivers booking notifications. Every channel is
// best-effort: a failure is reported to the caller, who logs it and moves
// on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cleanbook/internal/config"
	"cleanbook/internal/metrics"
	"cleanbook/internal/models"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindCancellation Kind = "cancellation"
	KindStatusUpdate Kind = "status-update"
)

// Result reports whether a message actually left the process.
type Result struct {
	Sent    bool   `json:"sent"`
	Channel string `json:"channel,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, kind Kind, b *models.Booking) (Result, error)
}

// EmailNotifier renders the customer email and logs it. No mail is sent.
type EmailNotifier struct {
	cfg    config.EmailConfig
	logger *zerolog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger *zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: logger}
}

func (n *EmailNotifier) Notify(ctx context.Context, kind Kind, b *models.Booking) (Result, error) {
	to := ""
	if b.Customer != nil {
		to = b.Customer.Email
	}
	n.logger.Info().
		Str("kind", string(kind)).
		Str("from", n.cfg.From).
		Str("to", to).
		Str("subject", Subject(kind, b)).
		Str("confirmation_code", b.ConfirmationCode).
		Msg("Email notification rendered (delivery not configured)")
	metrics.NotificationsTotal.WithLabelValues("email", string(kind), "skipped").Inc()
	return Result{Sent: false, Channel: "email"}, nil
}

// Multi fans a notification out to every channel. The result is Sent if any
// channel sent; errors from all channels are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, kind Kind, b *models.Booking) (Result, error) {
	var (
		res  Result
		errs []error
		sent []string
	)
	for _, n := range m {
		r, err := n.Notify(ctx, kind, b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r.Sent {
			res.Sent = true
			sent = append(sent, r.Channel)
		}
	}
	res.Channel = strings.Join(sent, ",")
	return res, errors.Join(errs...)
}

// Subject is the one-line summary for kind.
func Subject(kind Kind, b *models.Booking) string {
	switch kind {
	case KindConfirmation:
		return fmt.Sprintf("Booking confirmed: %s", b.ConfirmationCode)
	case KindCancellation:
		return fmt.Sprintf("Booking cancelled: %s", b.ConfirmationCode)
	default:
		return fmt.Sprintf("Booking %s is now %s", b.ConfirmationCode, b.Status)
	}
}

// Body renders the message text shared by all channels.
func Body(kind Kind, b *models.Booking) string {
	var sb strings.Builder
	sb.WriteString(Subject(kind, b))
	sb.WriteString("\n\n")
	if b.Customer != nil {
		fmt.Fprintf(&sb, "Customer: %s <%s>\n", b.Customer.FullName(), b.Customer.Email)
		if b.Customer.Phone != "" {
			fmt.Fprintf(&sb, "Phone: %s\n", b.Customer.Phone)
		}
		if b.Customer.Address != "" {
			addr := b.Customer.Address
			if b.Customer.UnitNumber != "" {
				addr += ", " + b.Customer.UnitNumber
			}
			fmt.Fprintf(&sb, "Address: %s, %s, %s %s\n", addr, b.Customer.City, b.Customer.State, b.Customer.ZipCode)
		}
	}
	fmt.Fprintf(&sb, "Date: %s, %s\n", b.DayOfWeek, b.Date)
	fmt.Fprintf(&sb, "Time: %s\n", b.TimeSlot)
	for _, l := range b.Rooms {
		fmt.Fprintf(&sb, "  %s x%d\n", l.Name, l.Quantity)
	}
	fmt.Fprintf(&sb, "Total: %s\n", b.TotalPrice)
	fmt.Fprintf(&sb, "Status: %s", b.Status)
	if b.SpecialInstructions != "" {
		fmt.Fprintf(&sb, "\nNotes: %s", b.SpecialInstructions)
	}
	return sb.String()
}
