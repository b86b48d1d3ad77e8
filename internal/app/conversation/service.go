package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/PabloGalante/clevercompass/internal/domain"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

const (
	// DefaultIdleTimeout is how long a session can be untouched before cleanup.
	DefaultIdleTimeout = 24 * time.Hour

	// DefaultCleanupInterval is how often idle sessions are looked for.
	DefaultCleanupInterval = 1 * time.Hour

	// DefaultMaxSessions triggers LRU eviction when reached.
	DefaultMaxSessions = 1000
)

// ServiceConfig tunes the session registry. Zero values take the defaults.
type ServiceConfig struct {
	RequestTimeout  time.Duration
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	MaxSessions     int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	session      *Session
	lastActivity time.Time
}

// Service owns the live sessions, one per client context. Sessions share
// nothing but the tutor, the encoder and the turn log.
type Service struct {
	tutor   domain.Tutor
	encoder ImageEncoder
	turns   domain.TurnLog
	cfg     ServiceConfig
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[domain.SessionID]*entry

	// removed sessions whose reply is still in flight
	retiring sync.WaitGroup

	cancelCleanup context.CancelFunc
	cleanupDone   chan struct{}
}

// NewService starts the registry and its cleanup goroutine. turns and
// encoder may be nil.
func NewService(tutor domain.Tutor, encoder ImageEncoder, turns domain.TurnLog, cfg ServiceConfig) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		tutor:         tutor,
		encoder:       encoder,
		turns:         turns,
		cfg:           cfg,
		now:           cfg.Now,
		sessions:      make(map[domain.SessionID]*entry),
		cancelCleanup: cancel,
		cleanupDone:   make(chan struct{}),
	}

	go s.cleanupLoop(ctx)

	return s
}

// Open creates a new session for subject.
func (s *Service) Open(ctx context.Context, subject domain.Subject) (*Session, error) {
	log := observability.LoggerFromContext(ctx).With("subject", subject)

	sess, err := NewSession(s.tutor, subject,
		WithSessionID(domain.SessionID(shortuuid.New())),
		WithRequestTimeout(s.cfg.RequestTimeout),
		WithImageEncoder(s.encoder),
		WithTurnLog(s.turns),
		WithClock(s.now),
	)
	if err != nil {
		log.Warn("failed to open session", "error", err)
		return nil, err
	}

	s.mu.Lock()
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.evictLRU()
	}
	s.sessions[sess.ID()] = &entry{session: sess, lastActivity: s.now()}
	s.mu.Unlock()

	log.Info("session opened", "session_id", sess.ID())
	return sess, nil
}

// Get returns a live session and marks it as active.
func (s *Service) Get(id domain.SessionID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	e.lastActivity = s.now()
	return e.session, nil
}

// Close forgets a session. A reply still in flight completes in the
// background and Shutdown waits for it.
func (s *Service) Close(id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	s.removeLocked(id, e)
	return nil
}

func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Turns lists the recorded turns of a session for operators.
func (s *Service) Turns(ctx context.Context, id domain.SessionID, limit int) ([]*domain.TurnRecord, error) {
	if s.turns == nil {
		return []*domain.TurnRecord{}, nil
	}
	return s.turns.ListTurns(ctx, id, limit)
}

// Shutdown stops the cleanup goroutine and waits for pending replies,
// including those of sessions already closed or evicted.
func (s *Service) Shutdown() {
	if s.cancelCleanup != nil {
		s.cancelCleanup()
		<-s.cleanupDone
	}

	s.mu.RLock()
	live := make([]*Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		live = append(live, e.session)
	}
	s.mu.RUnlock()

	for _, sess := range live {
		sess.Wait()
	}
	s.retiring.Wait()
}

func (s *Service) cleanupLoop(ctx context.Context) {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupIdle()
		}
	}
}

// cleanupIdle removes sessions idle for longer than IdleTimeout. Sessions
// awaiting a reply are kept.
func (s *Service) cleanupIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if now.Sub(e.lastActivity) > s.cfg.IdleTimeout && !e.session.AwaitingReply() {
			s.removeLocked(id, e)
			removed++
		}
	}

	if removed > 0 {
		observability.Logger().Info("cleaned up idle sessions", "removed", removed, "total", len(s.sessions))
	}
	return removed
}

// evictLRU drops the least recently used session. Must be called with s.mu held.
func (s *Service) evictLRU() {
	var (
		oldestID   domain.SessionID
		oldestTime time.Time
	)
	for id, e := range s.sessions {
		if oldestID == "" || e.lastActivity.Before(oldestTime) {
			oldestID = id
			oldestTime = e.lastActivity
		}
	}

	if oldestID != "" {
		s.removeLocked(oldestID, s.sessions[oldestID])
		observability.Logger().Info("evicted least recently used session",
			"session_id", oldestID,
			"idle", s.now().Sub(oldestTime).String(),
		)
	}
}

// removeLocked drops a session from the registry. A reply still in flight is
// tracked until it lands. Must be called with s.mu held.
func (s *Service) removeLocked(id domain.SessionID, e *entry) {
	delete(s.sessions, id)
	if !e.session.AwaitingReply() {
		return
	}
	s.retiring.Add(1)
	go func() {
		defer s.retiring.Done()
		e.session.Wait()
	}()
}
