package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/decoder"
	"github.com/midi-sniffer/backend/internal/logging"
	"github.com/midi-sniffer/backend/internal/metrics"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/storage"
)

// MaxSessions limits concurrent running sessions.
const MaxSessions = 10

// SessionMaxAge is how long to keep finished sessions before cleanup.
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep finished sessions that are still being read.
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrTooManySessions = errors.New("too many running sessions")
	ErrNotFound        = errors.New("session not found")
)

// ManagerConfig configures a Manager. Zero values select defaults.
type ManagerConfig struct {
	MaxSessions int
	RecentSize  int
	Session     Options
	// Events, when set, records every summary of every session.
	Events  *storage.EventStore
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// StartRequest describes a session to start.
type StartRequest struct {
	TableID    string
	Device     string
	SourceName string
	Index      decoder.Resolver
	Source     capture.Source
	// Sink receives summaries in addition to the manager's own sinks.
	Sink     Sink
	Recorder capture.Recorder
}

// State holds one session's metadata, loop and recent output.
type State struct {
	Info         *models.MonitorSession
	LastAccessed time.Time

	session *Session
	recent  *Recent
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Manager runs and tracks monitoring sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*State
	cfg      ManagerConfig
	log      *slog.Logger
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = MaxSessions
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = DefaultRecentSize
	}
	if cfg.Session.Metrics == nil {
		cfg.Session.Metrics = cfg.Metrics
	}
	return &Manager{
		sessions: make(map[string]*State),
		cfg:      cfg,
		log:      logging.Component(cfg.Logger, "manager"),
	}
}

// Start launches a session over req.Source in the background.
func (m *Manager) Start(req StartRequest) (*models.MonitorSession, error) {
	if req.Index == nil || req.Source == nil {
		return nil, fmt.Errorf("start session: index and source are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runningLocked() >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.New().String()
	info := models.NewMonitorSession(id, req.TableID)
	info.Device = req.Device
	info.Source = req.SourceName
	info.Status = models.SessionStatusRunning
	info.StartTime = time.Now().UnixMilli()

	opts := m.cfg.Session
	opts.Recorder = req.Recorder
	opts.Logger = logging.Component(m.cfg.Logger, "session").With("session", shortID(id))

	ctx, cancel := context.WithCancel(context.Background())
	state := &State{
		Info:         info,
		LastAccessed: time.Now(),
		session:      New(req.Index, opts),
		recent:       NewRecent(m.cfg.RecentSize),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.sessions[id] = state

	sinks := MultiSink{state.recent, req.Sink}
	if m.cfg.Events != nil {
		sinks = append(sinks, m.cfg.Events.Sink(id))
	}

	m.cfg.Metrics.SessionStarted()
	m.log.Info("session started", "session", shortID(id), "device", req.Device, "source", req.SourceName)

	go m.run(ctx, state, req.Source, sinks)

	snapshot := *info
	return &snapshot, nil
}

func (m *Manager) run(ctx context.Context, state *State, src capture.Source, sink Sink) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
		m.finish(state, err)
	}()

	err = state.session.Run(ctx, src, sink)
}

func (m *Manager) finish(state *State, err error) {
	state.recent.Finish()
	m.cfg.Metrics.SessionFinished()

	m.mu.Lock()
	defer m.mu.Unlock()

	info := state.Info
	info.EndTime = time.Now().UnixMilli()
	switch {
	case err == nil:
		info.Status = models.SessionStatusComplete
	case errors.Is(err, context.Canceled):
		info.Status = models.SessionStatusStopped
	default:
		info.Status = models.SessionStatusError
		info.Error = err.Error()
		m.log.Error("session failed", "session", shortID(info.ID), "error", err)
	}
	state.err = err
	close(state.done)
}

// Get returns a snapshot of a session with current counters.
func (m *Manager) Get(id string) (models.MonitorSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.MonitorSession{}, false
	}
	return m.snapshotLocked(state), true
}

// List returns snapshots of all sessions, newest first.
func (m *Manager) List() []models.MonitorSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.MonitorSession, 0, len(m.sessions))
	for _, state := range m.sessions {
		out = append(out, m.snapshotLocked(state))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime > out[j].StartTime
	})
	return out
}

func (m *Manager) snapshotLocked(state *State) models.MonitorSession {
	info := *state.Info
	stats := state.session.Stats()
	info.FramesRead = stats.FramesRead
	info.FramesInvalid = stats.FramesInvalid
	info.Unresolved = stats.Unresolved
	info.SummariesOut = stats.Summaries
	return info
}

// Recent returns the recent-summary ring of a session.
func (m *Manager) Recent(id string) (*Recent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return state.recent, true
}

// TouchSession updates the LastAccessed timestamp so cleanup keeps the session.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Stop cancels a session and waits for its final flush. Stopping a finished
// session is a no-op.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	state.cancel()
	select {
	case <-state.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until a session finishes and returns its run error.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case <-state.done:
		m.mu.RLock()
		defer m.mu.RUnlock()
		return state.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every running session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CleanupOldSessions removes finished sessions older than maxAge that have
// not been accessed within SessionKeepAliveWindow.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)
	cutoff := now.Add(-maxAge)

	removed := 0
	for id, state := range m.sessions {
		if !state.Info.Status.Finished() {
			continue
		}
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		ended := time.UnixMilli(state.Info.EndTime)
		if ended.Before(cutoff) {
			delete(m.sessions, id)
			removed++
			m.log.Info("cleaned up aged session", "session", shortID(id),
				"idle", now.Sub(state.LastAccessed).Round(time.Second))
		}
	}
	return removed
}

// RunCleanup calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, state := range m.sessions {
		if !state.Info.Status.Finished() {
			n++
		}
	}
	return n
}

// shortID truncates an ID for logging.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
