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

	"github.com/queubious/queubious/internal/session"
)

// waitTimeEstimate is the coarse placeholder shown to waiting visitors.
// Precise ETA modeling from egress data is deliberately out of scope.
const waitTimeEstimate = "119 Minutes"

// lastUpdatedFormat is the wall-clock format of the status timestamp.
const lastUpdatedFormat = "15:04:05"

// Status is a visitor's view of their place in the waiting room.
type Status struct {
	// Position is the 1-based, human-facing queue position.
	// 0 means the visitor is through the queue.
	Position int64 `json:"position"`

	// Progress is the percentage of the original queue distance already
	// covered, floored to an integer. Monotonically non-decreasing under
	// strict FIFO because the original position is never recomputed.
	Progress int `json:"progress"`

	WaitTime    string    `json:"wait_time"`
	LastUpdated string    `json:"last_updated"`
	Messages    []Message `json:"messages"`
}

// Message is an operator announcement shown on the waiting page.
type Message struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// Reporter computes queue positions and progress estimates.
type Reporter struct {
	store Store
	now   func() time.Time
}

// NewReporter creates a status reporter.
func NewReporter(store Store) *Reporter {
	return &Reporter{store: store, now: time.Now}
}

// Status reports the visitor's current position and progress.
//
// A nil session means a never-seen visitor: position 1, progress 0 is the
// conservative default. A visitor absent from the queue is either through it
// (admitted: position 0, progress 100) or unknown (same conservative default).
func (r *Reporter) Status(ctx context.Context, sess *session.Session) (Status, error) {
	if sess == nil {
		return r.freshStatus(), nil
	}

	position, err := r.store.QueuePosition(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, ErrVisitorNotFound) {
			return r.notQueuedStatus(ctx, sess)
		}
		return Status{}, fmt.Errorf("look up queue position: %w", err)
	}

	return Status{
		Position:    position + 1,
		Progress:    progressPercent(position, sess.OriginalPosition),
		WaitTime:    waitTimeEstimate,
		LastUpdated: r.now().Format(lastUpdatedFormat),
		Messages:    []Message{},
	}, nil
}

// notQueuedStatus handles a recognized visitor that is not in the queue:
// typically one that was promoted (or directly admitted) since their last poll.
func (r *Reporter) notQueuedStatus(ctx context.Context, sess *session.Session) (Status, error) {
	if sess.State == session.StateUnseen {
		return r.freshStatus(), nil
	}
	alive, err := r.store.LivenessMarkerExists(ctx, sess.ID)
	if err != nil {
		return Status{}, fmt.Errorf("check liveness marker: %w", err)
	}
	if sess.State == session.StateAdmitted || alive {
		return Status{
			Position:    0,
			Progress:    100,
			WaitTime:    waitTimeEstimate,
			LastUpdated: r.now().Format(lastUpdatedFormat),
			Messages:    []Message{},
		}, nil
	}
	// Enqueued per the session but gone from the store (pruned or lost):
	// the next admission decision re-derives the truth.
	return r.freshStatus(), nil
}

func (r *Reporter) freshStatus() Status {
	return Status{
		Position:    1,
		Progress:    0,
		WaitTime:    waitTimeEstimate,
		LastUpdated: r.now().Format(lastUpdatedFormat),
		Messages:    []Message{},
	}
}

// progressPercent computes the share of the original queue distance already
// covered, floored to an integer and clamped to [0, 100]. position is the
// current 0-based index, originalPosition the 1-based position captured at
// enqueue time, so a fresh enqueue reports 0 and 100 is reached only once the
// visitor leaves the queue. A non-positive original position clamps to 100
// rather than dividing by zero.
func progressPercent(position, originalPosition int64) int {
	if originalPosition <= 0 {
		return 100
	}
	// Both positions on the 1-based scale; integer arithmetic yields the
	// exact floor.
	percent := int(100 * (originalPosition - (position + 1)) / originalPosition)
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
