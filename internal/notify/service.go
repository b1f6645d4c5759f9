package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

var ErrUnknownTemplate = errors.New("notify: unknown booking email template")

type bookingTemplate struct {
	subject string
	// intro is formatted with the customer's name.
	intro string
	// notifyProvider also sends a copy to the assigned provider.
	notifyProvider bool
}

var bookingTemplates = map[string]bookingTemplate{
	"confirmed": {
		subject:        "Your cleaning is confirmed",
		intro:          "Hi %s, your booking is confirmed and your payment was received.",
		notifyProvider: true,
	},
	"inProgress": {
		subject: "Your cleaning has started",
		intro:   "Hi %s, your cleaner has started work.",
	},
	"completed": {
		subject: "Your cleaning is complete",
		intro:   "Hi %s, your cleaning is complete. Thanks for booking with us.",
	},
	"cancelled": {
		subject:        "Your booking was cancelled",
		intro:          "Hi %s, your booking has been cancelled.",
		notifyProvider: true,
	},
	"refunded": {
		subject: "Your refund has been issued",
		intro:   "Hi %s, a refund for your booking has been issued to your original payment method.",
	},
}

// BookingNotifier renders and sends booking lifecycle emails.
type BookingNotifier struct {
	email    EmailSender
	contacts ContactLookup
	logger   *logging.Logger
}

func NewBookingNotifier(email EmailSender, contacts ContactLookup, logger *logging.Logger) *BookingNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingNotifier{email: email, contacts: contacts, logger: logger}
}

// SendBookingEmail sends the template for bookingID to the customer and,
// for some templates, the assigned provider.
func (n *BookingNotifier) SendBookingEmail(ctx context.Context, bookingID, template string) error {
	tmpl, ok := bookingTemplates[template]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, template)
	}
	if n.email == nil || n.contacts == nil {
		n.logger.Debug("notify: email not configured, skipping booking email", "booking_id", bookingID, "template", template)
		return nil
	}

	contact, err := n.contacts.BookingContact(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("notify: lookup contact: %w", err)
	}

	var errs []error
	if contact.CustomerEmail != "" {
		msg := renderBookingEmail(tmpl, template, contact, contact.CustomerEmail, contact.CustomerName)
		if err := n.email.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	} else {
		n.logger.Warn("notify: customer has no email", "booking_id", bookingID)
	}
	if tmpl.notifyProvider && contact.ProviderEmail != "" {
		msg := renderBookingEmail(tmpl, template, contact, contact.ProviderEmail, contact.ProviderName)
		if err := n.email.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func renderBookingEmail(tmpl bookingTemplate, key string, c *BookingContact, to, name string) EmailMessage {
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	when := c.ScheduledAt.Format("Monday, January 2 at 3:04 PM")
	body := fmt.Sprintf("%s\n\nBooking: %s\nScheduled: %s\nTotal: $%s\n\n- SparkClean",
		fmt.Sprintf(tmpl.intro, name), c.BookingID, when, c.TotalAmount.StringFixed(2))
	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<p>%s</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px;"><strong>Booking:</strong></td><td style="padding: 8px;">%s</td></tr>
  <tr><td style="padding: 8px;"><strong>Scheduled:</strong></td><td style="padding: 8px;">%s</td></tr>
  <tr><td style="padding: 8px;"><strong>Total:</strong></td><td style="padding: 8px;">$%s</td></tr>
</table>
<p style="color: #6b7280; font-size: 12px;">- SparkClean</p>
</div>`, fmt.Sprintf(tmpl.intro, name), c.BookingID, when, c.TotalAmount.StringFixed(2))
	return EmailMessage{
		To:       to,
		ToName:   name,
		Subject:  tmpl.subject,
		Body:     body,
		HTML:     html,
		Category: key,
	}
}
