package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"website-extractor/internal/config"
	"website-extractor/internal/crawler"
	"website-extractor/internal/fetcher"
	"website-extractor/pkg/types"
)

var (
	// ErrSessionRunning is returned when the seed's origin already has a crawl in progress.
	ErrSessionRunning = errors.New("crawl already running for origin")
	// ErrMaxConcurrency signals that the global concurrency limit has been reached.
	ErrMaxConcurrency = errors.New("maximum concurrent crawls reached")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotRunning is returned when cancelling a finished session.
	ErrSessionNotRunning = errors.New("session not running")
)

// Runner executes one crawl.
type Runner interface {
	Run(ctx context.Context) (types.Stats, error)
}

// RunnerFactory builds a Runner for a session config.
type RunnerFactory func(cfg config.Config, opts ...crawler.Option) (Runner, error)

// EngineFactory builds crawler engines.
func EngineFactory(cfg config.Config, opts ...crawler.Option) (Runner, error) {
	engine, err := crawler.NewEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// SessionManager coordinates crawl lifecycles keyed by session identifier.
type SessionManager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	active         map[string]string
	baseConfig     config.Config
	maxConcurrency int
	running        int
	rootCtx        context.Context
	logger         *slog.Logger
	factory        RunnerFactory
	wg             sync.WaitGroup
}

// NewSessionManager constructs a manager with the provided defaults. A nil
// factory selects EngineFactory.
func NewSessionManager(base config.Config, maxConcurrency int, rootCtx context.Context, logger *slog.Logger, factory RunnerFactory) *SessionManager {
	if maxConcurrency <= 0 {
		maxConcurrency = 2
	}
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = EngineFactory
	}
	return &SessionManager{
		sessions:       make(map[string]*Session),
		active:         make(map[string]string),
		baseConfig:     base.Clone(),
		maxConcurrency: maxConcurrency,
		rootCtx:        rootCtx,
		logger:         logger,
		factory:        factory,
	}
}

// StartSession validates the request, materialises a config, and launches a crawl.
func (m *SessionManager) StartSession(req StartCrawlRequest) (*Session, error) {
	seed, err := crawler.ParseSeed(req.URL)
	if err != nil {
		return nil, err
	}
	cfg, err := m.buildConfig(req, seed.String())
	if err != nil {
		return nil, err
	}
	origin := fetcher.Origin(seed)

	m.mu.Lock()
	if _, busy := m.active[origin]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionRunning, origin)
	}
	if m.running >= m.maxConcurrency {
		m.mu.Unlock()
		return nil, ErrMaxConcurrency
	}
	session := newSession(uuid.NewString(), origin, m)
	m.sessions[session.id] = session
	m.active[origin] = session.id
	m.running++
	m.mu.Unlock()

	if err := session.startRun(m.rootCtx, cfg); err != nil {
		m.mu.Lock()
		delete(m.sessions, session.id)
		m.releaseLocked(session)
		m.mu.Unlock()
		return nil, err
	}
	return session, nil
}

// ListSessions captures current summaries for all sessions, newest first.
func (m *SessionManager) ListSessions() []SessionSummary {
	m.mu.RLock()
	summaries := make([]SessionSummary, 0, len(m.sessions))
	for _, session := range m.sessions {
		summaries = append(summaries, session.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries
}

// GetSession returns the backing session by id.
func (m *SessionManager) GetSession(id string) (*Session, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// GetSessionDetail captures the latest summary and config snapshot for a session.
func (m *SessionManager) GetSessionDetail(id string) (SessionDetail, bool) {
	session, ok := m.GetSession(id)
	if !ok {
		return SessionDetail{}, false
	}
	return SessionDetail{
		Session: session.Snapshot(),
		Config:  session.ConfigSnapshot(),
	}, true
}

// CancelSession requests cancellation of the session's crawl.
func (m *SessionManager) CancelSession(id string) error {
	session, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	if !session.Cancel("cancel requested via API") {
		return fmt.Errorf("%w: %q", ErrSessionNotRunning, id)
	}
	return nil
}

// Shutdown cancels all active sessions and waits for them to stop or ctx to end.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, session := range snapshot {
		session.Cancel("manager shutdown")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) buildConfig(req StartCrawlRequest, seed string) (config.Config, error) {
	cfg := m.baseConfig.Clone()
	cfg.Crawl.SeedURL = seed
	cfg.Crawl.MaxDepth = DefaultDepth
	if req.Depth != nil {
		cfg.Crawl.MaxDepth = *req.Depth
	}
	if req.Workers != nil {
		cfg.Crawl.Workers = *req.Workers
	}
	if req.Render != nil {
		cfg.Rendering.Enabled = *req.Render
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (m *SessionManager) releaseLocked(s *Session) {
	if id, ok := m.active[s.origin]; ok && id == s.id {
		delete(m.active, s.origin)
	}
	if m.running > 0 {
		m.running--
	}
}

func (m *SessionManager) notifyCompletion(s *Session) {
	m.mu.Lock()
	m.releaseLocked(s)
	m.mu.Unlock()
}

// Session tracks the lifecycle and state of one crawl.
type Session struct {
	id     string
	origin string

	mu          sync.Mutex
	seedURL     string
	depth       int
	status      SessionStatus
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	stats       types.Stats
	pending     int
	lastURL     string
	message     string
	lastError   string
	config      config.Config

	cancel context.CancelFunc

	subscribers map[chan SSEEvent]struct{}
	subMu       sync.RWMutex

	manager *SessionManager
}

func newSession(id, origin string, manager *SessionManager) *Session {
	return &Session{
		id:          id,
		origin:      origin,
		status:      SessionStatusPending,
		createdAt:   time.Now(),
		subscribers: make(map[chan SSEEvent]struct{}),
		manager:     manager,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) startRun(parentCtx context.Context, cfg config.Config) error {
	logger := s.manager.logger
	runner, err := s.manager.factory(cfg,
		crawler.WithSessionID(s.id),
		crawler.WithProgressSink(s),
		crawler.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(parentCtx)
	started := time.Now()

	s.mu.Lock()
	s.seedURL = cfg.Crawl.SeedURL
	s.depth = cfg.Crawl.MaxDepth
	s.status = SessionStatusRunning
	s.startedAt = &started
	s.message = "running"
	s.config = cfg
	s.cancel = cancel
	s.mu.Unlock()

	s.broadcast("session_started", nil)
	logger.Info("crawl session started", "session", s.id, "url", cfg.Crawl.SeedURL, "depth", cfg.Crawl.MaxDepth)

	s.manager.wg.Add(1)
	go func() {
		defer s.manager.wg.Done()
		defer cancel()
		stats, err := runner.Run(runCtx)
		s.handleCompletion(stats, err)
	}()
	return nil
}

// Report satisfies crawler.ProgressSink.
func (s *Session) Report(evt crawler.ProgressEvent) {
	s.mu.Lock()
	s.stats = evt.Stats
	s.pending = evt.Pending
	if evt.URL != "" {
		s.lastURL = evt.URL
	}
	s.mu.Unlock()

	copyEvt := evt
	s.broadcast("progress", &copyEvt)
}

func (s *Session) handleCompletion(stats types.Stats, err error) {
	// Free the origin and concurrency slot before observers can see a terminal status.
	s.manager.notifyCompletion(s)

	now := time.Now()
	s.mu.Lock()
	status := SessionStatusCompleted
	message := "completed"
	errorText := ""
	switch {
	case errors.Is(err, context.Canceled):
		status = SessionStatusCancelled
		message = "cancelled"
	case err != nil:
		status = SessionStatusFailed
		message = "failed"
		errorText = err.Error()
	}
	s.status = status
	s.stats = stats
	s.pending = 0
	s.completedAt = &now
	s.message = message
	s.lastError = errorText
	s.cancel = nil
	s.mu.Unlock()

	eventType := "session_completed"
	switch status {
	case SessionStatusCancelled:
		eventType = "session_cancelled"
	case SessionStatusFailed:
		eventType = "session_failed"
		s.manager.logger.Error("crawl session failed", "session", s.id, "error", err)
	}
	s.broadcast(eventType, nil)
	s.closeSubscribers()
}

// Cancel attempts to stop the running crawl.
func (s *Session) Cancel(reason string) bool {
	s.mu.Lock()
	if s.status != SessionStatusRunning || s.cancel == nil {
		s.mu.Unlock()
		return false
	}
	s.status = SessionStatusCancelling
	s.message = reason
	cancel := s.cancel
	s.mu.Unlock()
	s.broadcast("session_cancelling", nil)
	cancel()
	return true
}

// Snapshot returns a copy of the public session state.
func (s *Session) Snapshot() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := SessionSummary{
		SessionID: s.id,
		SeedURL:   s.seedURL,
		Depth:     s.depth,
		Status:    s.status,
		Stats:     s.stats,
		Pending:   s.pending,
		LastURL:   s.lastURL,
		CreatedAt: s.createdAt,
		Message:   s.message,
		Error:     s.lastError,
	}
	if s.startedAt != nil {
		started := *s.startedAt
		summary.StartedAt = &started
	}
	if s.completedAt != nil {
		completed := *s.completedAt
		summary.CompletedAt = &completed
	}
	return summary
}

// ConfigSnapshot returns a copy of the session config.
func (s *Session) ConfigSnapshot() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// Subscribe registers an SSE subscriber. The channel is closed when the
// session finishes or cancel is called.
func (s *Session) Subscribe() (<-chan SSEEvent, func()) {
	ch := make(chan SSEEvent, 16)
	ch <- SSEEvent{Type: "snapshot", Timestamp: time.Now(), Session: s.Snapshot()}

	s.subMu.Lock()
	if s.subscribers == nil {
		// Session already finished; the snapshot is all there is.
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcast(eventType string, progress *crawler.ProgressEvent) {
	envelope := SSEEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Session:   s.Snapshot(),
		Progress:  progress,
	}

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- envelope:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
}
