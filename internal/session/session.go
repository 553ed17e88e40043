// Package session implements the session registry: admission under a global
// cap, per-session quotas and TTL, and deterministic release of the browser
// context owned by each record.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nomadbarefoot/surf/internal/browser"
	"github.com/nomadbarefoot/surf/internal/config"
	"github.com/nomadbarefoot/surf/internal/metrics"
	"github.com/nomadbarefoot/surf/internal/security"
	"github.com/nomadbarefoot/surf/internal/types"
)

// Session status values. Expired and Error are terminal.
const (
	StatusActive  = "active"
	StatusIdle    = "idle"
	StatusExpired = "expired"
	StatusError   = "error"
)

// Stats event kinds. Every event counts as a request; some kinds bump an
// additional counter.
const (
	EventNavigate   = "navigate"
	EventExtract    = "extract"
	EventScreenshot = "screenshot"
	EventInteract   = "interact"
	EventRequest    = "request"
)

// closeConcurrency bounds parallel context teardown during reaping and
// shutdown.
const closeConcurrency = 4

// Quotas are the static per-session usage limits. MaxMemoryMiB is advisory:
// it feeds the resource monitor but is not enforced here.
type Quotas struct {
	MaxDuration     time.Duration
	MaxRequests     int64
	MaxPages        int64
	MaxScreenshots  int64
	MaxInteractions int64
	MaxMemoryMiB    int64
}

// DefaultQuotas returns the standard per-session limits.
func DefaultQuotas() Quotas {
	return Quotas{
		MaxDuration:     300 * time.Second,
		MaxRequests:     1000,
		MaxPages:        100,
		MaxScreenshots:  50,
		MaxInteractions: 500,
		MaxMemoryMiB:    512,
	}
}

// Stats is the per-session counter block.
type Stats struct {
	Requests        int64   `json:"requests"`
	PagesLoaded     int64   `json:"pages_loaded"`
	Screenshots     int64   `json:"screenshots"`
	Interactions    int64   `json:"interactions"`
	Errors          int64   `json:"errors"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	LastError       string  `json:"last_error,omitempty"`
}

// Event describes one completed operation for stats accounting.
type Event struct {
	Kind     string
	Duration time.Duration
	Success  bool
	Error    string
}

// Session is one registered browser session. The operation lock serializes
// executors against the same page; the registry never holds it.
type Session struct {
	ID        string
	UserID    string
	Config    types.SessionConfig
	Profile   browser.Profile
	Context   browser.PageContext
	CreatedAt time.Time
	Quotas    Quotas

	lastActivity atomic.Int64
	closed       atomic.Bool

	opMu sync.Mutex

	mu     sync.Mutex
	status string
	url    string
	title  string
	stats  Stats
}

// Lock acquires the session's operation lock. Executors hold it for the full
// duration of a request so page operations are never concurrent.
func (s *Session) Lock() { s.opMu.Lock() }

// Unlock releases the operation lock.
func (s *Session) Unlock() { s.opMu.Unlock() }

// Touch advances last-activity to now.
func (s *Session) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// Closed reports whether the session has been removed from the registry.
// Operation waiters that acquired the lock after a close use it to bail out
// instead of driving a disposed browser context.
func (s *Session) Closed() bool { return s.closed.Load() }

// LastActivity returns the last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Status returns the current lifecycle status.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// setStatus transitions the status. Expired and Error are terminal; moves
// out of them are ignored.
func (s *Session) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusExpired || s.status == StatusError {
		return
	}
	s.status = status
}

// MarkError flips the session into the terminal Error state. Executors call
// it when the browser context becomes unusable.
func (s *Session) MarkError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusExpired {
		s.status = StatusError
	}
	if msg != "" {
		s.stats.LastError = msg
	}
}

// SetLocation records the page's current URL and title.
func (s *Session) SetLocation(url, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.title = title
}

// Location returns the last recorded URL and title.
func (s *Session) Location() (url, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, s.title
}

// SnapshotStats returns a copy of the counter block.
func (s *Session) SnapshotStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// recordEvent applies one stats event. Every event is a request; navigate,
// screenshot, and interact bump their own counters on top.
func (s *Session) recordEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Requests++
	switch ev.Kind {
	case EventNavigate:
		s.stats.PagesLoaded++
	case EventScreenshot:
		s.stats.Screenshots++
	case EventInteract:
		s.stats.Interactions++
	}
	s.stats.TotalDurationMs += float64(ev.Duration) / float64(time.Millisecond)
	if !ev.Success {
		s.stats.Errors++
		if ev.Error != "" {
			s.stats.LastError = ev.Error
		}
	}
}

// quotaBreach reports the first exceeded quota, or "" when all counters are
// within limits.
func (s *Session) quotaBreach(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.Quotas
	switch {
	case now.Sub(s.CreatedAt) > q.MaxDuration:
		return fmt.Sprintf("duration above %s", q.MaxDuration)
	case s.stats.Requests > q.MaxRequests:
		return fmt.Sprintf("requests above %d", q.MaxRequests)
	case s.stats.PagesLoaded > q.MaxPages:
		return fmt.Sprintf("page loads above %d", q.MaxPages)
	case s.stats.Screenshots > q.MaxScreenshots:
		return fmt.Sprintf("screenshots above %d", q.MaxScreenshots)
	case s.stats.Interactions > q.MaxInteractions:
		return fmt.Sprintf("interactions above %d", q.MaxInteractions)
	}
	return ""
}

// Info is the read-only projection served by list and stats operations.
type Info struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	URL          string    `json:"url,omitempty"`
	Title        string    `json:"title,omitempty"`
	Stats        Stats     `json:"stats"`
}

func (s *Session) info() Info {
	url, title := s.Location()
	return Info{
		ID:           s.ID,
		UserID:       s.UserID,
		Status:       s.Status(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
		URL:          url,
		Title:        title,
		Stats:        s.SnapshotStats(),
	}
}

// Registry holds all active sessions and runs the TTL reaper.
type Registry struct {
	cfg     *config.Config
	factory browser.ContextFactory

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry creates the registry and starts the reaper.
func NewRegistry(cfg *config.Config, factory browser.ContextFactory) *Registry {
	r := &Registry{
		cfg:      cfg,
		factory:  factory,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reaper()
	}()

	log.Info().
		Int("max_sessions", cfg.MaxSessions).
		Dur("ttl", cfg.SessionTTL).
		Dur("cleanup_interval", cfg.SessionCleanupInterval).
		Msg("Session registry started")
	return r
}

// Create admits a new session. The whole sequence runs under the registry
// lock so concurrent creates cannot race past the global cap.
func (r *Registry) Create(ctx context.Context, userCfg *types.SessionConfig, userID string) (*Session, error) {
	merged, profile := r.mergeConfig(userCfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, types.NewInvalidSessionError("", "registry is shut down")
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		return nil, types.NewResourceLimitError("sessions", r.cfg.MaxSessions, len(r.sessions))
	}

	opts := browser.ContextOptions{
		Viewport:        merged.Viewport,
		UserAgent:       merged.UserAgent,
		Platform:        profile.Platform,
		Mobile:          profile.Mobile,
		Stealth:         merged.Stealth == nil || *merged.Stealth,
		JavaScript:      merged.JavaScript == nil || *merged.JavaScript,
		IgnoreTLSErrors: merged.IgnoreTLSErrors,
		BlockResources:  merged.BlockResources,
	}
	pc, err := r.factory.NewContext(ctx, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:        security.NewSessionID(),
		UserID:    userID,
		Config:    merged,
		Profile:   profile,
		Context:   pc,
		CreatedAt: now,
		Quotas:    DefaultQuotas(),
		status:    StatusActive,
	}
	s.lastActivity.Store(now.UnixNano())
	r.sessions[s.ID] = s
	metrics.RecordSessionCreated()
	metrics.UpdateSessionMetrics(len(r.sessions))

	log.Info().
		Str("session_id", s.ID).
		Str("user_id", userID).
		Str("ua_category", profile.Category).
		Int("total_sessions", len(r.sessions)).
		Msg("Session created")
	return s, nil
}

// mergeConfig layers the user config over the configured defaults and draws
// a fingerprint profile when no user agent is pinned.
func (r *Registry) mergeConfig(userCfg *types.SessionConfig) (types.SessionConfig, browser.Profile) {
	var merged types.SessionConfig
	if userCfg != nil {
		merged = *userCfg
	}

	profile := browser.ProfileForKind(merged.BrowserKind)
	if merged.UserAgent == "" {
		merged.UserAgent = profile.UserAgent
	} else {
		// Pinned UA means the drawn platform must not contradict it
		profile = browser.Profile{UserAgent: merged.UserAgent}
	}
	if merged.Viewport == nil {
		vp := browser.RandomViewport()
		merged.Viewport = &vp
	}
	if merged.BlockResources == nil {
		merged.BlockResources = r.cfg.BlockResources
	}
	if !merged.IgnoreTLSErrors {
		merged.IgnoreTLSErrors = r.cfg.IgnoreCertErrors
	}
	if merged.TimeoutMs == 0 {
		merged.TimeoutMs = int(r.cfg.DefaultTimeout / time.Millisecond)
	}
	return merged, profile
}

// Get resolves a session id, enforcing shape, TTL, and quotas. A session past
// its TTL or over quota is closed before the error returns. On success
// last-activity is bumped.
func (r *Registry) Get(id string) (*Session, error) {
	if !security.IsValidSessionID(id) {
		return nil, types.NewValidationError("session_id",
			"must match "+security.SessionIDPrefix+"<8 hex chars>")
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, types.NewSessionNotFoundError(id)
	}

	now := time.Now()
	if now.Sub(s.CreatedAt) > r.cfg.SessionTTL {
		s.setStatus(StatusExpired)
		r.remove(id)
		r.teardown(s, "expired")
		return nil, types.NewInvalidSessionError(id, "Session expired")
	}
	if breach := s.quotaBreach(now); breach != "" {
		s.setStatus(StatusExpired)
		r.remove(id)
		r.teardown(s, "quota")
		return nil, types.NewInvalidSessionError(id, "Session limits exceeded: "+breach)
	}

	s.Touch()
	return s, nil
}

// Close removes a session and releases its browser context. The context is
// released exactly once even if teardown fails; a second close reports
// SessionNotFound without re-teardown.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return types.NewSessionNotFoundError(id)
	}
	r.teardown(s, "closed")
	return nil
}

// remove deletes the record without teardown.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// teardown releases the session's browser context. Failure is logged; the
// record is already gone and does not come back.
func (r *Registry) teardown(s *Session, reason string) {
	s.closed.Store(true)
	switch reason {
	case "expired", "quota", "reaped":
		metrics.RecordSessionExpired()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Context.Close(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", s.ID).
			Str("reason", reason).
			Msg("Session context teardown failed")
	}
	log.Info().
		Str("session_id", s.ID).
		Str("reason", reason).
		Dur("lifetime", time.Since(s.CreatedAt)).
		Msg("Session closed")
}

// UpdateStats applies a stats event to a session. Unknown ids are a silent
// no-op.
func (r *Registry) UpdateStats(id string, ev Event) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	s.recordEvent(ev)
}

// List returns projections of all sessions, or only those owned by userID
// when it is non-empty.
func (r *Registry) List(userID string) []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if userID == "" || s.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// Stats returns the projection for one session.
func (r *Registry) Stats(id string) (Info, error) {
	if !security.IsValidSessionID(id) {
		return Info{}, types.NewValidationError("session_id",
			"must match "+security.SessionIDPrefix+"<8 hex chars>")
	}
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return Info{}, types.NewSessionNotFoundError(id)
	}
	return s.info(), nil
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// reaper periodically sweeps sessions past their TTL or over quota.
func (r *Registry) reaper() {
	ticker := time.NewTicker(r.cfg.SessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reapOnce()
		case <-r.stopCh:
			return
		}
	}
}

// reapOnce collects dead sessions under the lock and closes their contexts
// outside it, bounded-parallel.
func (r *Registry) reapOnce() {
	now := time.Now()

	r.mu.Lock()
	var dead []*Session
	for id, s := range r.sessions {
		if now.Sub(s.CreatedAt) > r.cfg.SessionTTL || s.quotaBreach(now) != "" {
			s.setStatus(StatusExpired)
			dead = append(dead, s)
			delete(r.sessions, id)
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	if len(dead) == 0 {
		return
	}

	eg := new(errgroup.Group)
	eg.SetLimit(closeConcurrency)
	for _, s := range dead {
		sess := s
		eg.Go(func() error {
			r.teardown(sess, "reaped")
			return nil
		})
	}
	_ = eg.Wait()

	log.Debug().
		Int("reaped", len(dead)).
		Int("remaining", remaining).
		Msg("Session reap completed")
}

// Shutdown stops the reaper and closes every remaining session.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	eg := new(errgroup.Group)
	eg.SetLimit(closeConcurrency)
	for _, s := range sessions {
		sess := s
		eg.Go(func() error {
			r.teardown(sess, "shutdown")
			return nil
		})
	}
	_ = eg.Wait()

	log.Info().Int("closed", len(sessions)).Msg("Session registry shut down")
	return nil
}
