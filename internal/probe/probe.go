// Package probe implements optional readiness checks used to sequence the
// inspector launch behind actual server readiness instead of a fixed delay.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duet-run/duet/internal/config"
)

// Prober performs a single readiness check. A nil error means ready.
type Prober interface {
	Probe(ctx context.Context) error
}

// New constructs a prober from a readiness specification.
func New(spec *config.ReadinessSpec) (Prober, error) {
	if spec == nil {
		return nil, errors.New("probe: nil readiness spec")
	}
	switch {
	case spec.HTTP != nil:
		return newHTTPProber(spec.HTTP), nil
	case spec.TCP != nil:
		return newTCPProber(spec.TCP), nil
	case spec.Command != nil:
		return newCommandProber(spec.Command)
	default:
		return nil, errors.New("probe: readiness spec configures no prober")
	}
}

// Wait polls the prober at the configured interval until it succeeds, the
// deadline passes, or the context is cancelled. Each attempt is bounded by
// the per-probe timeout.
func Wait(ctx context.Context, p Prober, spec *config.ReadinessSpec) error {
	interval := spec.Interval.Duration
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	deadline := spec.Deadline.Duration
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if spec.Timeout.Duration > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, spec.Timeout.Duration)
		}
		err := p.Probe(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if ctx.Err() == nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("readiness probe: %w (last failure: %v)", ctx.Err(), lastErr)
			}
			return fmt.Errorf("readiness probe: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
