package control

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BoundSession is an authenticated HTTP session, carrying the Telegram
// user_id it's bound to. Adapted from the teacher's streamauth.Session,
// generalized from a Firebase-verified email to a bound Telegram user_id.
type BoundSession struct {
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// sessionStore is the opaque-cookie session store backing the HTTP control
// surface, adapted from streamauth.sessionStore: crypto/rand tokens, a
// TTL-bound map, and a background ticker-driven cleanup loop.
type sessionStore struct {
	log             *zap.Logger
	ttl             time.Duration
	cleanupInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]BoundSession
	stopCh   chan struct{}
}

func newSessionStore(log *zap.Logger, ttl, cleanupInterval time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &sessionStore{
		log:             log.Named("SessionStore"),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		sessions:        make(map[string]BoundSession),
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *sessionStore) Create(userID int64) (string, time.Time, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	s.mu.Lock()
	s.sessions[token] = BoundSession{UserID: userID, CreatedAt: now, ExpiresAt: expiresAt}
	s.mu.Unlock()

	return token, expiresAt, nil
}

func (s *sessionStore) Validate(token string) (BoundSession, bool) {
	if token == "" {
		return BoundSession{}, false
	}
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return BoundSession{}, false
	}
	if time.Now().After(sess.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return BoundSession{}, false
	}
	return sess, true
}

func (s *sessionStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func (s *sessionStore) Stop() { close(s.stopCh) }

func (s *sessionStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *sessionStore) cleanupExpired() {
	now := time.Now()
	removed := 0
	s.mu.Lock()
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	remaining := len(s.sessions)
	s.mu.Unlock()
	if removed > 0 {
		s.log.Debug("expired sessions removed", zap.Int("removed", removed), zap.Int("remaining", remaining))
	}
}
