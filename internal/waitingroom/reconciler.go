/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package waitingroom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
)

// DefaultTickInterval is how often the reconciliation loop runs.
const DefaultTickInterval = time.Second

// DefaultPruneWindow bounds how many active members are liveness-checked per tick.
const DefaultPruneWindow = 100

// Reconciler performs one reconciliation tick: it evicts active visitors
// whose liveness marker has expired and then promotes visitors from the
// front of the queue until capacity is reached.
//
// Run executes a single tick, which lets tests drive ticks deterministically.
// In production it runs under service.PeriodicWorker, which isolates per-tick
// errors: a failed tick is logged and retried on the next interval, so an
// unreachable store degrades to "no promotions occur" instead of crashing.
type Reconciler struct {
	store            Store
	activeSessionTTL time.Duration
	pruneWindow      int64
	logger           log.FieldLogger
	metrics          *PrometheusMetrics
}

// ReconcilerOpts contains optional parameters for the Reconciler.
type ReconcilerOpts struct {
	// PruneWindow overrides DefaultPruneWindow.
	PruneWindow int64
}

// NewReconciler creates a reconciler.
func NewReconciler(
	store Store, activeSessionTTL time.Duration, logger log.FieldLogger, metrics *PrometheusMetrics, opts ReconcilerOpts,
) *Reconciler {
	pruneWindow := opts.PruneWindow
	if pruneWindow <= 0 {
		pruneWindow = DefaultPruneWindow
	}
	return &Reconciler{
		store:            store,
		activeSessionTTL: activeSessionTTL,
		pruneWindow:      pruneWindow,
		logger:           logger,
		metrics:          metrics,
	}
}

// Run executes one tick. Implements service.Worker.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.runTick(ctx); err != nil {
		r.metrics.TickErrors.Inc()
		return err
	}
	return nil
}

func (r *Reconciler) runTick(ctx context.Context) error {
	if err := r.prune(ctx); err != nil {
		return fmt.Errorf("prune active set: %w", err)
	}
	if err := r.promote(ctx); err != nil {
		return fmt.Errorf("promote from queue: %w", err)
	}
	return r.updateGauges(ctx)
}

// prune removes active members whose liveness marker has expired. This is
// the only path that evicts dead visitors; liveness is never inferred from
// HTTP traffic directly.
func (r *Reconciler) prune(ctx context.Context) error {
	members, err := r.store.ActiveWindow(ctx, r.pruneWindow)
	if err != nil {
		return err
	}
	for _, id := range members {
		alive, existsErr := r.store.LivenessMarkerExists(ctx, id)
		if existsErr != nil {
			return existsErr
		}
		if alive {
			continue
		}
		removed, removeErr := r.store.RemoveActive(ctx, id)
		if removeErr != nil {
			return removeErr
		}
		if removed {
			r.metrics.Evictions.Inc()
			r.logger.Info("evicted expired visitor from active set", log.String("visitor_id", id.String()))
		}
	}
	return nil
}

// promote moves visitors from the front of the queue into the active set
// until capacity is reached, strictly in queue order. Each move is a single
// atomic pop-and-insert, so overlapping ticks cannot double-promote a
// visitor or knowingly exceed capacity.
func (r *Reconciler) promote(ctx context.Context) error {
	capacity, err := r.store.Capacity(ctx)
	if err != nil {
		return err
	}
	activeLen, err := r.store.ActiveLen(ctx)
	if err != nil {
		return err
	}

	for free := capacity - activeLen; free > 0; free-- {
		id, promoteErr := r.store.PromoteOne(ctx)
		if promoteErr != nil {
			if errors.Is(promoteErr, ErrQueueEmpty) {
				return nil
			}
			return promoteErr
		}
		if markerErr := r.store.SetLivenessMarker(ctx, id, r.activeSessionTTL); markerErr != nil {
			// The visitor is already in the active set; without a marker the
			// next tick's prune step evicts them again.
			return markerErr
		}
		r.metrics.Promotions.Inc()
		r.logger.Info("promoted visitor from queue to active set", log.String("visitor_id", id.String()))
	}
	return nil
}

func (r *Reconciler) updateGauges(ctx context.Context) error {
	queueLen, err := r.store.QueueLen(ctx)
	if err != nil {
		return err
	}
	activeLen, err := r.store.ActiveLen(ctx)
	if err != nil {
		return err
	}
	r.metrics.QueueLength.Set(float64(queueLen))
	r.metrics.ActiveVisitors.Set(float64(activeLen))
	return nil
}
