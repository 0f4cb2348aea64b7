// Package delivery writes rendered reports to their destinations.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/kebairia/borgreport/internal/logger"
	"github.com/kebairia/borgreport/internal/report"
)

// ErrDelivery indicates that a rendered report could not be written or sent.
var ErrDelivery = errors.New("report delivery failed")

// Delivery is one destination of a run.
type Delivery interface {
	// Name describes the destination for logs and errors.
	Name() string
	Deliver(ctx context.Context, r *report.Report) error
}

// DeliverAll runs every delivery, even after one of them failed, and returns
// the combined failures. Nothing is delivered once ctx is cancelled.
func DeliverAll(ctx context.Context, log logger.Logger, r *report.Report, deliveries ...Delivery) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: skipped: %w", ErrDelivery, err)
	}

	var errs error
	for _, d := range deliveries {
		if err := d.Deliver(ctx, r); err != nil {
			log.Error("delivery failed", "destination", d.Name(), "error", err.Error())
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		log.Debug("delivered", "destination", d.Name())
	}
	return errs
}
