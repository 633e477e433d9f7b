/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package waitingroom implements the admission-control core: the queue/active
// state model, the per-request admission decision, the background
// reconciliation of liveness against the active set, and queue position
// reporting.
package waitingroom

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store errors.
var (
	// ErrVisitorNotFound is returned when a visitor is not present in the
	// list being queried.
	ErrVisitorNotFound = errors.New("visitor not found")

	// ErrQueueEmpty is returned by PromoteOne when there is nobody to promote.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrCapacityNotSet is returned when the shared capacity value is absent
	// from the store. Startup always seeds it, so this indicates an external
	// wipe of the store.
	ErrCapacityNotSet = errors.New("capacity is not set")
)

// Store is the shared, externally-durable state behind the waiting room:
// the FIFO queue, the capacity-bounded active set, one TTL-backed liveness
// marker per active visitor, and the global capacity value.
//
// Every operation must be individually atomic under arbitrary interleaving
// of concurrent request handlers and the reconciliation loop. PromoteOne in
// particular must be exclusive per element so two overlapping ticks can
// never promote the same visitor twice.
type Store interface {
	// Enqueue appends the visitor to the back of the queue and returns the
	// resulting queue length, which is the visitor's 1-based position.
	Enqueue(ctx context.Context, id uuid.UUID) (position int64, err error)

	// QueueLen returns the current number of waiting visitors.
	QueueLen(ctx context.Context) (int64, error)

	// QueuePosition returns the visitor's current 0-based index in the queue.
	// Returns ErrVisitorNotFound if the visitor is not queued.
	QueuePosition(ctx context.Context, id uuid.UUID) (int64, error)

	// PromoteOne atomically moves the visitor at the front of the queue into
	// the active set and returns it. Returns ErrQueueEmpty when the queue has
	// nobody waiting.
	PromoteOne(ctx context.Context) (uuid.UUID, error)

	// AddActive inserts the visitor into the active set (direct admission).
	AddActive(ctx context.Context, id uuid.UUID) error

	// RemoveActive removes the visitor from the active set and reports
	// whether it was present. Removing an absent visitor is not an error.
	RemoveActive(ctx context.Context, id uuid.UUID) (removed bool, err error)

	// ActiveLen returns the current size of the active set.
	ActiveLen(ctx context.Context) (int64, error)

	// ActiveWindow returns up to limit members of the active set, oldest first.
	ActiveWindow(ctx context.Context, limit int64) ([]uuid.UUID, error)

	// SetLivenessMarker creates (or resets) the visitor's liveness marker
	// with the given TTL.
	SetLivenessMarker(ctx context.Context, id uuid.UUID, ttl time.Duration) error

	// RefreshLivenessMarker extends the TTL of an existing marker and reports
	// whether the marker still existed. It never creates a marker: a pruned
	// visitor must go through promotion again.
	RefreshLivenessMarker(ctx context.Context, id uuid.UUID, ttl time.Duration) (refreshed bool, err error)

	// LivenessMarkerExists reports whether the visitor's marker is still alive.
	LivenessMarkerExists(ctx context.Context, id uuid.UUID) (bool, error)

	// DeleteLivenessMarker removes the visitor's marker (explicit termination).
	// Deleting an absent marker is not an error.
	DeleteLivenessMarker(ctx context.Context, id uuid.UUID) error

	// Capacity returns the global active-set capacity.
	// Returns ErrCapacityNotSet if the value is absent.
	Capacity(ctx context.Context) (int64, error)

	// SetCapacity sets the global active-set capacity.
	SetCapacity(ctx context.Context, capacity int64) error

	// Ping verifies the store connection is alive.
	Ping(ctx context.Context) error
}
