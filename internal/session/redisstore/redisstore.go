package redisstore

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/redis/go-redis/v9"

    "github.com/balisaikiran/pothos-backend/internal/session"
)

// Store keeps one JSON session document per user at <prefix>:<user_id>,
// expiring with the session.
type Store struct {
    client *redis.Client
    prefix string
    clock  clockwork.Clock
}

// Dial connects and pings redis.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
    client := redis.NewClient(&redis.Options{
        Addr:     addr,
        Password: password,
        DB:       db,
    })

    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
    }
    return client, nil
}

func New(client *redis.Client, prefix string, clock clockwork.Clock) *Store {
    if prefix == "" {
        prefix = "session"
    }
    if clock == nil {
        clock = clockwork.NewRealClock()
    }
    return &Store{client: client, prefix: prefix, clock: clock}
}

func (s *Store) key(userID string) string { return s.prefix + ":" + userID }

func (s *Store) Get(ctx context.Context, userID string) (session.Session, bool, error) {
    data, err := s.client.Get(ctx, s.key(userID)).Bytes()
    if errors.Is(err, redis.Nil) {
        return session.Session{}, false, nil
    }
    if err != nil {
        return session.Session{}, false, fmt.Errorf("redis get %s: %w", userID, err)
    }
    var out session.Session
    if err := json.Unmarshal(data, &out); err != nil {
        return session.Session{}, false, fmt.Errorf("decoding session %s: %w", userID, err)
    }
    return out, true, nil
}

// Put overwrites the user's session. Sessions with no validity left are
// removed instead of written.
func (s *Store) Put(ctx context.Context, sess session.Session) error {
    now := s.clock.Now()
    if !sess.ExpiresAt.IsZero() && !now.Before(sess.ExpiresAt) {
        return s.Invalidate(ctx, sess.UserID)
    }
    data, err := json.Marshal(sess)
    if err != nil {
        return err
    }
    // 0 keeps sessions of unknown validity until overwritten
    ttl := sess.Remaining(now)
    if err := s.client.Set(ctx, s.key(sess.UserID), data, ttl).Err(); err != nil {
        return fmt.Errorf("redis set %s: %w", sess.UserID, err)
    }
    return nil
}

func (s *Store) Invalidate(ctx context.Context, userID string) error {
    if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
        return fmt.Errorf("redis del %s: %w", userID, err)
    }
    return nil
}
