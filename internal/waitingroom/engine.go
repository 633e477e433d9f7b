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

	"github.com/queubious/queubious/internal/audit"
	"github.com/queubious/queubious/internal/session"
)

// Decision is the outcome of an admission decision.
type Decision int

// Admission decision outcomes.
const (
	// DecisionEnqueue sends the visitor to the waiting room.
	DecisionEnqueue Decision = iota

	// DecisionAdmit lets the visitor through to the destination.
	DecisionAdmit
)

// Engine decides, per request, whether a visitor is admitted directly or
// has to wait. Queue length, active-set size, and capacity are read freshly
// from the store on every decision; nothing is cached across requests.
type Engine struct {
	store            Store
	emitter          audit.Emitter
	activeSessionTTL time.Duration
	metrics          *PrometheusMetrics
}

// NewEngine creates an admission decision engine.
func NewEngine(store Store, emitter audit.Emitter, activeSessionTTL time.Duration, metrics *PrometheusMetrics) *Engine {
	return &Engine{store: store, emitter: emitter, activeSessionTTL: activeSessionTTL, metrics: metrics}
}

// Decide runs the admission policy for the visitor and applies its side
// effects to the store and the session.
//
// Policy: a non-empty queue or a full active set means Enqueue; new arrivals
// always go behind already-waiting visitors, which preserves strict FIFO
// fairness even when capacity would technically allow direct admission.
//
// The session is mutated in place; the caller persists it. Store errors
// leave the session unchanged and surface to the caller.
func (e *Engine) Decide(ctx context.Context, sess *session.Session) (Decision, error) {
	// An admitted visitor whose liveness marker is still alive keeps their
	// admission; re-queueing them would put them in queue and active at once.
	if sess.State == session.StateAdmitted {
		alive, err := e.store.LivenessMarkerExists(ctx, sess.ID)
		if err != nil {
			return 0, fmt.Errorf("check liveness marker: %w", err)
		}
		if alive {
			return DecisionAdmit, nil
		}
		// Pruned since the last visit: decide from scratch.
		sess.State = session.StateUnseen
		sess.OriginalPosition = 0
	}

	// An enqueued visitor may have been promoted by the reconciler since they
	// last polled: their session lags behind the store. A live marker for a
	// visitor absent from the queue means they are already in the active set,
	// so they must be let through as-is. Re-enqueueing them would put them in
	// queue and active at once, and re-admitting them would duplicate their
	// active entry.
	if sess.State == session.StateEnqueued {
		_, err := e.store.QueuePosition(ctx, sess.ID)
		if err != nil && !errors.Is(err, ErrVisitorNotFound) {
			return 0, fmt.Errorf("check queue membership: %w", err)
		}
		if errors.Is(err, ErrVisitorNotFound) {
			alive, aliveErr := e.store.LivenessMarkerExists(ctx, sess.ID)
			if aliveErr != nil {
				return 0, fmt.Errorf("check liveness marker: %w", aliveErr)
			}
			if alive {
				sess.State = session.StateAdmitted
				sess.OriginalPosition = 0
				return DecisionAdmit, nil
			}
			// Gone from the queue with no marker (pruned or lost): their
			// entry is re-created by the enqueue path below.
		}
	}

	capacity, err := e.store.Capacity(ctx)
	if err != nil {
		return 0, fmt.Errorf("read capacity: %w", err)
	}
	queueLen, err := e.store.QueueLen(ctx)
	if err != nil {
		return 0, fmt.Errorf("read queue length: %w", err)
	}
	activeLen, err := e.store.ActiveLen(ctx)
	if err != nil {
		return 0, fmt.Errorf("read active length: %w", err)
	}

	if queueLen >= 1 || activeLen >= capacity {
		if err = e.enqueue(ctx, sess); err != nil {
			return 0, err
		}
		e.metrics.Admissions.WithLabelValues(metricsDecisionEnqueue).Inc()
		return DecisionEnqueue, nil
	}

	if err = e.admit(ctx, sess); err != nil {
		return 0, err
	}
	e.metrics.Admissions.WithLabelValues(metricsDecisionAdmit).Inc()
	return DecisionAdmit, nil
}

// enqueue appends the visitor to the queue unless they are already waiting.
// The session's enqueued flag alone is not trusted: membership is verified
// against the store, so a visitor whose entry was lost is simply re-enqueued.
func (e *Engine) enqueue(ctx context.Context, sess *session.Session) error {
	if sess.State == session.StateEnqueued {
		_, err := e.store.QueuePosition(ctx, sess.ID)
		if err == nil {
			return nil // already waiting, repeated polling must not re-append
		}
		if !errors.Is(err, ErrVisitorNotFound) {
			return fmt.Errorf("check queue membership: %w", err)
		}
	}

	position, err := e.store.Enqueue(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("enqueue visitor: %w", err)
	}
	sess.State = session.StateEnqueued
	sess.OriginalPosition = position

	e.emitter.Emit(audit.NewEvent(audit.EventEnqueued, sess.ID))
	return nil
}

// admit inserts the visitor into the active set and creates their liveness
// marker. The visitor was never enqueued on this path, so there is nothing
// to remove from the queue.
func (e *Engine) admit(ctx context.Context, sess *session.Session) error {
	if err := e.store.AddActive(ctx, sess.ID); err != nil {
		return fmt.Errorf("add visitor to active set: %w", err)
	}
	if err := e.store.SetLivenessMarker(ctx, sess.ID, e.activeSessionTTL); err != nil {
		// Without a marker the next reconciliation tick evicts the visitor,
		// so the store does not leak a permanently active entry.
		return fmt.Errorf("set liveness marker: %w", err)
	}
	sess.State = session.StateAdmitted
	sess.OriginalPosition = 0
	return nil
}
