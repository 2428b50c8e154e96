package pgstore

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    _ "github.com/lib/pq"

    "github.com/balisaikiran/pothos-backend/internal/session"
)

const schema = `CREATE TABLE IF NOT EXISTS sessions (
    user_id      TEXT PRIMARY KEY,
    access_token TEXT NOT NULL,
    issued_at    TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
    selectSession = `SELECT user_id, access_token, issued_at, expires_at FROM sessions WHERE user_id = $1`
    upsertSession = `INSERT INTO sessions (user_id, access_token, issued_at, expires_at, updated_at)
    VALUES ($1, $2, $3, $4, now())
    ON CONFLICT (user_id) DO UPDATE
    SET access_token = EXCLUDED.access_token, issued_at = EXCLUDED.issued_at,
        expires_at = EXCLUDED.expires_at, updated_at = now()`
    deleteSession = `DELETE FROM sessions WHERE user_id = $1`
)

// Store keeps one row per user in the sessions table.
type Store struct {
    db *sql.DB
}

// Open connects to dsn, pings and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
    db, err := sql.Open("postgres", dsn)
    if err != nil {
        return nil, fmt.Errorf("opening postgres: %w", err)
    }
    db.SetMaxOpenConns(10)
    db.SetMaxIdleConns(5)
    db.SetConnMaxLifetime(5 * time.Minute)

    pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := db.PingContext(pingCtx); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("pinging postgres: %w", err)
    }

    s := New(db)
    if err := s.EnsureSchema(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return s, nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
    if _, err := s.db.ExecContext(ctx, schema); err != nil {
        return fmt.Errorf("creating sessions table: %w", err)
    }
    return nil
}

func (s *Store) Get(ctx context.Context, userID string) (session.Session, bool, error) {
    var (
        out       session.Session
        expiresAt sql.NullTime
    )
    err := s.db.QueryRowContext(ctx, selectSession, userID).Scan(&out.UserID, &out.AccessToken, &out.IssuedAt, &expiresAt)
    if errors.Is(err, sql.ErrNoRows) {
        return session.Session{}, false, nil
    }
    if err != nil {
        return session.Session{}, false, fmt.Errorf("loading session %s: %w", userID, err)
    }
    if expiresAt.Valid {
        out.ExpiresAt = expiresAt.Time
    }
    return out, true, nil
}

func (s *Store) Put(ctx context.Context, sess session.Session) error {
    expiresAt := sql.NullTime{Time: sess.ExpiresAt, Valid: !sess.ExpiresAt.IsZero()}
    if _, err := s.db.ExecContext(ctx, upsertSession, sess.UserID, sess.AccessToken, sess.IssuedAt, expiresAt); err != nil {
        return fmt.Errorf("saving session %s: %w", sess.UserID, err)
    }
    return nil
}

func (s *Store) Invalidate(ctx context.Context, userID string) error {
    if _, err := s.db.ExecContext(ctx, deleteSession, userID); err != nil {
        return fmt.Errorf("deleting session %s: %w", userID, err)
    }
    return nil
}

func (s *Store) Close() error { return s.db.Close() }
