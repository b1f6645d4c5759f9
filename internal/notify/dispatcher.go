package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// BookingEmailer sends one booking email synchronously.
type BookingEmailer interface {
	SendBookingEmail(ctx context.Context, bookingID, template string) error
}

type notificationMetrics interface {
	ObserveNotification(template string, ok bool)
}

// Dispatcher sends booking emails on detached goroutines. Failures are
// logged and counted, never returned to the caller.
type Dispatcher struct {
	emailer BookingEmailer
	timeout time.Duration
	logger  *logging.Logger
	metrics notificationMetrics
	wg      sync.WaitGroup
}

func NewDispatcher(emailer BookingEmailer, timeout time.Duration, metrics notificationMetrics, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{emailer: emailer, timeout: timeout, logger: logger, metrics: metrics}
}

// Dispatch returns immediately. The send keeps ctx's values but not its
// cancellation, so it outlives the request that triggered it.
func (d *Dispatcher) Dispatch(ctx context.Context, bookingID, template string) {
	if d == nil || d.emailer == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notify: booking email panicked", "booking_id", bookingID, "template", template, "panic", r)
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		err := d.emailer.SendBookingEmail(sendCtx, bookingID, template)
		if d.metrics != nil {
			d.metrics.ObserveNotification(template, err == nil)
		}
		if err != nil {
			d.logger.Warn("notify: booking email failed", "error", err, "booking_id", bookingID, "template", template)
			return
		}
		d.logger.Debug("notify: booking email sent", "booking_id", bookingID, "template", template)
	}()
}

// Wait blocks until in-flight sends finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
