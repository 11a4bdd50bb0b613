package session

import (
	"context"
	"errors"
	"time"

	"github.com/audioscribe/api/internal/model"
)

// ErrNotFound is returned when a session was never created, was already
// cleaned up, or (for Take) has not reached the completed state.
var ErrNotFound = errors.New("session not found")

// Store tracks conversion sessions. Implementations must guarantee that no
// reader ever observes a partially-written record and that terminal records
// (completed or error) are immutable except for removal.
//
// Update, Complete and Fail are no-ops for missing ids so that worker writes
// racing with cleanup stay harmless.
type Store interface {
	// Create inserts a new record with status "starting" and progress 0.
	// Callers must guarantee id uniqueness; a duplicate id overwrites.
	Create(ctx context.Context, sess model.Session) error

	// Update advances a session: progress is clamped to the total and never
	// decreased, the step label is replaced, and status becomes "processing".
	Update(ctx context.Context, id string, progress int, step string) error

	// Complete moves a session to the completed terminal state with full
	// progress and the "Completed" step label.
	Complete(ctx context.Context, id string) error

	// Fail moves a session to the error terminal state. Progress is left
	// untouched; the step label becomes "Error: " + message.
	Fail(ctx context.Context, id string, message string) error

	// Get returns a point-in-time snapshot, or ErrNotFound.
	Get(ctx context.Context, id string) (model.Session, error)

	// Take atomically removes and returns the record, but only when its
	// status is completed. Exactly one of any set of concurrent callers
	// wins; the rest get ErrNotFound.
	Take(ctx context.Context, id string) (model.Session, error)

	// Remove deletes the record; idempotent.
	Remove(ctx context.Context, id string) error

	// Sweep removes terminal sessions last updated before the cutoff and
	// returns them so the caller can delete their scratch directories.
	Sweep(ctx context.Context, cutoff time.Time) ([]model.Session, error)
}
