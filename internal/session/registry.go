// Package session provides the token registry that binds an issued CAPTCHA
// to its checked-out browser until the login completes or the TTL reaper
// claims it.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kebiao-app/timetable-server/internal/browser"
	"github.com/kebiao-app/timetable-server/internal/config"
	"github.com/kebiao-app/timetable-server/internal/portal"
)

var (
	// ErrInvalidSession is returned for tokens that are unknown, already
	// consumed, or expired.
	ErrInvalidSession = errors.New("invalid or expired session")
	// ErrSessionInUse is returned when another flow holds the session.
	// Logins consume their session, so queueing a second caller behind
	// one would never succeed.
	ErrSessionInUse = errors.New("session is currently in use")
	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("session registry is closed")
)

// State is a session lifecycle phase. Transitions out of StateActive
// happen exactly once, under the registry lock: whichever of the reaper,
// a consume, or an eviction claims the session first wins, and the others
// observe a terminal state.
type State int

const (
	StateActive State = iota
	StateConsumed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateConsumed:
		return "consumed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Reason tells the teardown callback why a session ended.
type Reason string

const (
	// ReasonConsumed: a login completed its scrape. The browser has an
	// authenticated history, so the pool should destroy and replace it.
	ReasonConsumed Reason = "consumed"
	// ReasonAborted: a flow failed mid-login and left the browser in an
	// unknown page state. Destroy and replace, same as consumed.
	ReasonAborted Reason = "aborted"
	// ReasonExpired: the TTL elapsed with no completed login. The
	// browser only ever saw the login form and can be wiped and reused.
	ReasonExpired Reason = "expired"
	// ReasonEvicted: removed by memory pressure or shutdown.
	ReasonEvicted Reason = "evicted"
)

// TeardownFunc returns a session's browser to the pool, one way or
// another. It is called exactly once per session, outside the registry
// lock.
type TeardownFunc func(s *Session, reason Reason)

// Session binds a token to its checked-out browser and page driver.
//
// Driver and Authenticated belong to whichever flow holds the checkout;
// the registry itself only touches the lifecycle fields.
type Session struct {
	Token   string
	Browser *browser.ManagedBrowser
	Driver  portal.Driver

	// Authenticated is set once a kept session has passed login, which
	// lets later calls reuse it without fresh credentials.
	Authenticated bool

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	State      State
	InUse      bool
}

// Registry is the concurrency-safe token map plus a single reaper
// goroutine armed to the earliest session deadline.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      *config.Config
	logger   *slog.Logger
	teardown TeardownFunc
	closed   bool

	// wake nudges the reaper whenever a deadline changes.
	wake chan struct{}
}

// NewRegistry creates a session registry. teardown is invoked exactly
// once for every session that reaches a terminal state.
func NewRegistry(cfg *config.Config, logger *slog.Logger, teardown TeardownFunc) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
		teardown: teardown,
		wake:     make(chan struct{}, 1),
	}
}

// Begin registers a new session for the browser and driver under a fresh
// token and arms the reaper for its deadline.
func (r *Registry) Begin(b *browser.ManagedBrowser, d portal.Driver) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	token, err := r.newTokenLocked()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		Token:      token,
		Browser:    b,
		Driver:     d,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.cfg.SessionTTL),
		LastUsedAt: now,
		State:      StateActive,
	}
	r.sessions[token] = s
	r.wakeLocked()

	r.logger.Info("session begun", "expires_in", r.cfg.SessionTTL)
	return s, nil
}

// Checkout looks up an active session and marks it in use. The reaper
// never claims a checked-out session, so the holder owns the browser
// until Release.
func (r *Registry) Checkout(token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	s, ok := r.sessions[token]
	if !ok || s.State != StateActive {
		return nil, ErrInvalidSession
	}
	if time.Now().After(s.ExpiresAt) {
		// Lookup lost the race with the deadline; the reaper owns it now.
		r.wakeLocked()
		return nil, ErrInvalidSession
	}
	if s.InUse {
		return nil, ErrSessionInUse
	}

	s.InUse = true
	s.LastUsedAt = time.Now()
	return s, nil
}

// Release returns a checked-out session to the registry without touching
// its deadline. A session already past its deadline is reaped right after.
func (r *Registry) Release(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return
	}
	s.InUse = false
	s.LastUsedAt = time.Now()
	r.wakeLocked()
}

// Touch pushes the session deadline out by a full TTL. Called after an
// attempt that keeps the session alive, so the user gets a fresh window
// to retry or follow up.
func (r *Registry) Touch(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok || s.State != StateActive {
		return
	}
	s.ExpiresAt = time.Now().Add(r.cfg.SessionTTL)
	r.wakeLocked()
}

// Consume terminally claims a checked-out session after a completed
// scrape and triggers its teardown. The caller must hold the checkout.
func (r *Registry) Consume(token string) error {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if !ok || s.State != StateActive {
		r.mu.Unlock()
		return ErrInvalidSession
	}
	s.State = StateConsumed
	s.InUse = false
	delete(r.sessions, token)
	r.mu.Unlock()

	r.logger.Info("session consumed", "age", time.Since(s.CreatedAt))
	r.teardown(s, ReasonConsumed)
	return nil
}

// Abort terminally claims a checked-out session whose flow failed in a
// way that leaves the browser unusable. The caller must hold the
// checkout.
func (r *Registry) Abort(token string) error {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if !ok || s.State != StateActive {
		r.mu.Unlock()
		return ErrInvalidSession
	}
	s.State = StateExpired
	s.InUse = false
	delete(r.sessions, token)
	r.mu.Unlock()

	r.logger.Info("session aborted", "age", time.Since(s.CreatedAt))
	r.teardown(s, ReasonAborted)
	return nil
}

// EvictIdle terminally claims sessions that have sat unused for at least
// cutoff. The memory watchdog uses this under pressure. Returns the
// number evicted.
func (r *Registry) EvictIdle(cutoff time.Duration) int {
	r.mu.Lock()
	var evicted []*Session
	now := time.Now()
	for token, s := range r.sessions {
		if s.InUse || s.State != StateActive {
			continue
		}
		if now.Sub(s.LastUsedAt) < cutoff {
			continue
		}
		s.State = StateExpired
		delete(r.sessions, token)
		evicted = append(evicted, s)
	}
	r.mu.Unlock()

	for _, s := range evicted {
		r.logger.Info("session evicted", "idle", time.Since(s.LastUsedAt))
		r.teardown(s, ReasonEvicted)
	}
	return len(evicted)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close terminally claims every remaining session.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var remaining []*Session
	for token, s := range r.sessions {
		s.State = StateExpired
		delete(r.sessions, token)
		remaining = append(remaining, s)
	}
	r.mu.Unlock()

	for _, s := range remaining {
		r.teardown(s, ReasonEvicted)
	}
	r.logger.Info("session registry closed", "sessions_closed", len(remaining))
}

// StartReaper runs the expiry loop until ctx is cancelled. A single timer
// is armed to the earliest deadline and re-armed whenever Begin, Touch or
// Release moves it.
func (r *Registry) StartReaper(ctx context.Context) {
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if next, ok := r.nextDeadline(); ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-r.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			r.reapExpired()
		}
	}
}

// nextDeadline returns the earliest deadline among sessions the reaper
// may claim. In-use sessions are skipped; their holders re-trigger the
// reaper on release.
func (r *Registry) nextDeadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next time.Time
	found := false
	for _, s := range r.sessions {
		if s.InUse || s.State != StateActive {
			continue
		}
		if !found || s.ExpiresAt.Before(next) {
			next = s.ExpiresAt
			found = true
		}
	}
	return next, found
}

// reapExpired terminally claims every idle session past its deadline.
func (r *Registry) reapExpired() {
	r.mu.Lock()
	var expired []*Session
	now := time.Now()
	for token, s := range r.sessions {
		if s.InUse || s.State != StateActive {
			continue
		}
		if now.Before(s.ExpiresAt) {
			continue
		}
		s.State = StateExpired
		delete(r.sessions, token)
		expired = append(expired, s)
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.logger.Info("session expired unused", "age", time.Since(s.CreatedAt))
		r.teardown(s, ReasonExpired)
	}
}

// wakeLocked nudges the reaper without blocking. Callers hold r.mu.
func (r *Registry) wakeLocked() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// newTokenLocked draws a fresh unguessable token, re-drawing on the
// vanishingly unlikely collision with a live session. Callers hold r.mu.
func (r *Registry) newTokenLocked() (string, error) {
	for {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		token := hex.EncodeToString(buf)
		if _, exists := r.sessions[token]; !exists {
			return token, nil
		}
	}
}
