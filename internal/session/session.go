package session

import (
    "context"
    "errors"
    "strings"
    "sync"
    "time"
)

// Session is one user's provider session.
type Session struct {
    UserID      string    `json:"user_id"`
    AccessToken string    `json:"access_token"`
    IssuedAt    time.Time `json:"issued_at"`
    // ExpiresAt is zero for client-held tokens of unknown validity.
    ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether now is past ExpiresAt.
func (s Session) Expired(now time.Time) bool {
    return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Remaining returns the validity left at now; 0 for unknown or expired.
func (s Session) Remaining(now time.Time) time.Duration {
    if s.ExpiresAt.IsZero() || !now.Before(s.ExpiresAt) {
        return 0
    }
    return s.ExpiresAt.Sub(now)
}

// Store caches the latest session per user. Put is last-write-wins.
type Store interface {
    Get(ctx context.Context, userID string) (Session, bool, error)
    Put(ctx context.Context, s Session) error
    Invalidate(ctx context.Context, userID string) error
}

var (
    ErrNoToken       = errors.New("no access token")
    ErrTokenMismatch = errors.New("token does not match stored session")
)

// Resolve picks the session a request should use. The caller must
// present a token. When it is the token stored for userID the stored
// session is returned, carrying its expiry; otherwise the token is wrapped
// as a client-held session with unknown expiry, bound to userID only if
// nothing else is stored for that user.
func Resolve(ctx context.Context, store Store, userID, token string, now time.Time) (Session, error) {
    token = strings.TrimSpace(token)
    if token == "" {
        return Session{}, ErrNoToken
    }
    if store != nil && userID != "" {
        s, ok, err := store.Get(ctx, userID)
        if err != nil {
            return Session{}, err
        }
        if ok {
            if s.AccessToken == token {
                return s, nil
            }
            userID = ""
        }
    }
    return Session{UserID: userID, AccessToken: token, IssuedAt: now}, nil
}

// Revoke removes userID's stored session, but only when token is the one
// stored. A missing session is not an error.
func Revoke(ctx context.Context, store Store, userID, token string) error {
    token = strings.TrimSpace(token)
    if token == "" {
        return ErrNoToken
    }
    s, ok, err := store.Get(ctx, userID)
    if err != nil {
        return err
    }
    if !ok {
        return nil
    }
    if s.AccessToken != token {
        return ErrTokenMismatch
    }
    return store.Invalidate(ctx, userID)
}

// Noop is the stateless store: nothing is kept.
type Noop struct{}

func (Noop) Get(context.Context, string) (Session, bool, error) { return Session{}, false, nil }
func (Noop) Put(context.Context, Session) error                 { return nil }
func (Noop) Invalidate(context.Context, string) error           { return nil }

// Memory keeps sessions in process. The zero value is ready to use.
type Memory struct {
    mu    sync.RWMutex
    items map[string]Session
}

func NewMemory() *Memory { return &Memory{items: make(map[string]Session)} }

func (m *Memory) Get(_ context.Context, userID string) (Session, bool, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    s, ok := m.items[userID]
    return s, ok, nil
}

func (m *Memory) Put(_ context.Context, s Session) error {
    m.mu.Lock()
    if m.items == nil {
        m.items = make(map[string]Session)
    }
    m.items[s.UserID] = s
    m.mu.Unlock()
    return nil
}

func (m *Memory) Invalidate(_ context.Context, userID string) error {
    m.mu.Lock()
    delete(m.items, userID)
    m.mu.Unlock()
    return nil
}
