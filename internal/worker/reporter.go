package worker

import (
	"context"
	"log"

	"github.com/audioscribe/api/internal/session"
	"github.com/audioscribe/api/internal/websocket"
)

// Reporter is the worker's write API onto a session: advance progress, mark
// completion, or mark failure. Every write goes through the store and is
// echoed to websocket subscribers. Store errors are logged, never returned;
// progress reporting must not be able to fail the pipeline.
type Reporter struct {
	store session.Store
	hub   *websocket.Hub
}

// NewReporter creates a reporter over the given store. hub may be nil when
// no push channel is wired (tests, queue-only workers).
func NewReporter(store session.Store, hub *websocket.Hub) *Reporter {
	return &Reporter{store: store, hub: hub}
}

// Update advances the session's progress and step label.
func (r *Reporter) Update(ctx context.Context, sessionID string, progress int, step string) {
	if err := r.store.Update(ctx, sessionID, progress, step); err != nil {
		log.Printf("Session %s: progress write failed: %v", sessionID, err)
		return
	}
	if r.hub != nil {
		if sess, err := r.store.Get(ctx, sessionID); err == nil {
			r.hub.BroadcastProgress(sessionID, sess.Progress, sess.Total, sess.Status, sess.CurrentStep)
		}
	}
}

// Complete moves the session to the completed terminal state.
func (r *Reporter) Complete(ctx context.Context, sessionID string) {
	if err := r.store.Complete(ctx, sessionID); err != nil {
		log.Printf("Session %s: completion write failed: %v", sessionID, err)
		return
	}
	if r.hub != nil {
		if sess, err := r.store.Get(ctx, sessionID); err == nil {
			r.hub.BroadcastProgress(sessionID, sess.Progress, sess.Total, sess.Status, sess.CurrentStep)
			r.hub.BroadcastComplete(sessionID, sess.Format)
		}
	}
}

// Fail moves the session to the error terminal state.
func (r *Reporter) Fail(ctx context.Context, sessionID string, message string) {
	if err := r.store.Fail(ctx, sessionID, message); err != nil {
		log.Printf("Session %s: failure write failed: %v", sessionID, err)
		return
	}
	if r.hub != nil {
		r.hub.BroadcastError(sessionID, message)
	}
}
