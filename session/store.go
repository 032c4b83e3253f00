// Package session holds the current credentials and identity and mirrors
// them to a client-local store so they survive restarts.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/roommate-match/go-client/kv"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/model"
)

// DefaultKey is the kv key the session is persisted under.
const DefaultKey = "session"

const writeTimeout = 2 * time.Second

// Store is the single owner of the session. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	writeMu sync.Mutex // orders kv writes the same as in-memory updates
	current model.Session
	kv      kv.Store
	key     string
	logger  logger.Logger
}

type Option func(*Store)

// WithKey overrides the kv key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger used to report persistence failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store backed by persist, restoring any previously saved
// session. A nil persist keeps the session in memory only.
func New(ctx context.Context, persist kv.Store, opts ...Option) *Store {
	s := &Store{kv: persist, key: DefaultKey}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	s.logger = s.logger.WithPrefix("[session]")
	if s.kv != nil {
		found, saved, err := kv.Get[model.Session](ctx, s.kv, s.key)
		switch {
		case err != nil:
			s.logger.Warn("failed to restore session: %s", err)
		case found:
			s.current = saved
			s.logger.Debug("restored session for user %s", saved.Identity.ID)
		}
	}
	return s
}

// Get returns the current session. ok is false when unauthenticated.
func (s *Store) Get() (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current.Authenticated()
}

// AccessToken returns the current access token or empty.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AccessToken
}

// RefreshToken returns the current refresh token or empty.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.RefreshToken
}

// Identity returns the authenticated identity.
func (s *Store) Identity() model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Identity
}

// Replace swaps in a new session. A missing identity is filled from the
// access token claims.
func (s *Store) Replace(next model.Session) {
	if next.Identity.ID.IsZero() || next.Identity.Role == "" {
		if claims, ok := IdentityFromToken(next.AccessToken); ok {
			if next.Identity.ID.IsZero() {
				next.Identity.ID = claims.ID
			}
			if next.Identity.Role == "" {
				next.Identity.Role = claims.Role
			}
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	s.persist(next)
}

// ReplaceTokens installs a refreshed credential pair, keeping the identity.
// An empty refresh token keeps the previous one.
func (s *Store) ReplaceTokens(access, refresh string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.current.AccessToken = access
	if refresh != "" {
		s.current.RefreshToken = refresh
	}
	if claims, ok := IdentityFromToken(access); ok && claims.Role != "" {
		s.current.Identity.Role = claims.Role
	}
	next := s.current
	s.mu.Unlock()
	s.persist(next)
}

// Clear forgets the session.
func (s *Store) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.current = model.Session{}
	s.mu.Unlock()
	if s.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := s.kv.Delete(ctx, s.key); err != nil {
		s.logger.Warn("failed to clear persisted session: %s", err)
	}
}

// persist failures are logged and otherwise ignored; memory stays authoritative
func (s *Store) persist(sess model.Session) {
	if s.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := kv.Set(ctx, s.kv, s.key, sess); err != nil {
		s.logger.Warn("failed to persist session: %s", err)
	}
}
