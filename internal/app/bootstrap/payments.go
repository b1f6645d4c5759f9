package bootstrap

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/sparkclean/sparkclean-platform/internal/config"
	"github.com/sparkclean/sparkclean-platform/internal/events"
	"github.com/sparkclean/sparkclean-platform/internal/notify"
	"github.com/sparkclean/sparkclean-platform/internal/observability/metrics"
	"github.com/sparkclean/sparkclean-platform/internal/store"
	"github.com/sparkclean/sparkclean-platform/internal/webhooks"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// BuildNotifier wires the booking email dispatcher over Postgres contacts.
func BuildNotifier(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, m *metrics.PaymentMetrics, logger *logging.Logger) (*notify.Dispatcher, error) {
	sender, err := BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	emailer := notify.NewBookingNotifier(sender, notify.NewPostgresContacts(pool), logger)
	return notify.NewDispatcher(emailer, cfg.NotifyTimeout, m, logger), nil
}

// BuildWebhookProcessor wires the Stripe event handlers, the event log and
// the billing store. Shared by the API and the reconciler.
func BuildWebhookProcessor(pool *pgxpool.Pool, uow store.UnitOfWork, notifier webhooks.Notifier, audit webhooks.Auditor,
	m *metrics.PaymentMetrics, logger *logging.Logger) (*webhooks.Processor, *events.WebhookLog) {
	dispatcher := webhooks.NewDispatcher(logger).
		Register(webhooks.NewHandlers(uow, notifier, audit, logger))
	log := events.NewWebhookLog(pool)
	return webhooks.NewProcessor(log, events.NewBillingStore(pool), dispatcher, m, logger), log
}
