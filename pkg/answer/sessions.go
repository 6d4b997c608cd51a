package answer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session tracks one client walking a workflow for one incident. It lives
// from the first submitted answer until the last question is answered, a
// submission fails, or it stays idle past the expiry timeout.
type Session struct {
	ID         string    `json:"session_id"`
	WorkflowID int64     `json:"workflow_id"`
	Incident   string    `json:"incident_number"`
	StartedAt  time.Time `json:"started_at"`
	LastActive time.Time `json:"last_active"`
	Answers    int       `json:"answers"`
}

type sessionKey struct {
	workflowID int64
	incident   string
}

// Sessions is the registry of open sessions.
type Sessions struct {
	mu     sync.Mutex
	open   map[sessionKey]*Session
	logger *slog.Logger
	now    func() time.Time
}

// NewSessions creates an empty registry.
func NewSessions(logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{open: make(map[sessionKey]*Session), logger: logger, now: time.Now}
}

// Acquire returns the open session for (workflowID, incident), opening one
// if needed.
func (r *Sessions) Acquire(workflowID int64, incident string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := sessionKey{workflowID, incident}
	now := r.now()
	s, ok := r.open[k]
	if !ok {
		s = &Session{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			Incident:   incident,
			StartedAt:  now,
		}
		r.open[k] = s
		r.logger.Debug("session opened", "sessionID", s.ID, "workflowID", workflowID, "incident", incident)
	}
	s.LastActive = now
	return *s
}

// Touch records a stored answer on the session.
func (r *Sessions) Touch(workflowID int64, incident string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.open[sessionKey{workflowID, incident}]; ok {
		s.Answers++
		s.LastActive = r.now()
	}
}

// Release closes the session if it is still open. Releasing twice is a no-op.
func (r *Sessions) Release(s Session, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := sessionKey{s.WorkflowID, s.Incident}
	cur, ok := r.open[k]
	if !ok || cur.ID != s.ID {
		return
	}
	r.release(k, cur, reason)
}

// release must be called with r.mu held.
func (r *Sessions) release(k sessionKey, s *Session, reason string) {
	delete(r.open, k)
	r.logger.Info("session released",
		"sessionID", s.ID,
		"workflowID", s.WorkflowID,
		"incident", s.Incident,
		"answers", s.Answers,
		"reason", reason,
		"duration", r.now().Sub(s.StartedAt).String(),
	)
}

// ExpireIdle releases every session with no activity since cutoff and
// returns how many it released.
func (r *Sessions) ExpireIdle(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.open {
		if s.LastActive.Before(cutoff) {
			r.release(k, s, "idle")
			n++
		}
	}
	return n
}

// RunExpiry releases sessions idle for longer than timeout until ctx is
// cancelled. A non-positive timeout disables expiry.
func (r *Sessions) RunExpiry(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		r.logger.Info("session expiry disabled")
		return
	}
	interval := min(max(timeout/4, time.Second), 5*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("session expiry started", "idleTimeout", timeout.String(), "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ExpireIdle(r.now().Add(-timeout)); n > 0 {
				r.logger.Info("expired idle sessions", "released", n)
			}
		}
	}
}

// Get returns a copy of the open session, if any.
func (r *Sessions) Get(workflowID int64, incident string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.open[sessionKey{workflowID, incident}]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Len returns the number of open sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}
