package auth

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/jonboulle/clockwork"

    "github.com/balisaikiran/pothos-backend/internal/logger"
    "github.com/balisaikiran/pothos-backend/internal/metrics"
    "github.com/balisaikiran/pothos-backend/internal/provider"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

// Failure reasons, also used as the public error codes.
const (
    ReasonInvalidCredentials  = "invalid_credentials"
    ReasonUpstreamUnavailable = "upstream_unavailable"
    ReasonMalformedResponse   = "malformed_response"
)

// Error is a failed credential exchange.
type Error struct {
    Reason  string
    Message string
    Err     error
}

func (e *Error) Error() string {
    if e.Err != nil {
        return fmt.Sprintf("[%s] %s: %v", e.Reason, e.Message, e.Err)
    }
    return fmt.Sprintf("[%s] %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Reason, so callers can compare
// against the sentinels below.
func (e *Error) Is(target error) bool {
    t, ok := target.(*Error)
    return ok && t.Reason == e.Reason
}

var (
    ErrInvalidCredentials  = &Error{Reason: ReasonInvalidCredentials, Message: "invalid username or password"}
    ErrUpstreamUnavailable = &Error{Reason: ReasonUpstreamUnavailable, Message: "market data provider unavailable"}
    ErrMalformedResponse   = &Error{Reason: ReasonMalformedResponse, Message: "unexpected response from market data provider"}
)

// Exchanger turns user credentials into a Session. It keeps no state.
type Exchanger struct {
    provider   provider.Authenticator
    defaultTTL time.Duration
    clock      clockwork.Clock
}

// New builds an Exchanger. defaultTTL applies when the provider omits
// expires_in.
func New(p provider.Authenticator, defaultTTL time.Duration, clock clockwork.Clock) *Exchanger {
    if defaultTTL <= 0 {
        defaultTTL = time.Hour
    }
    if clock == nil {
        clock = clockwork.NewRealClock()
    }
    return &Exchanger{provider: p, defaultTTL: defaultTTL, clock: clock}
}

// Authenticate exchanges username/password for a provider session.
func (x *Exchanger) Authenticate(ctx context.Context, username, password string) (session.Session, error) {
    log := logger.Component("auth").WithField("user", username)

    if strings.TrimSpace(username) == "" || password == "" {
        metrics.AuthAttempts.WithLabelValues(ReasonInvalidCredentials).Inc()
        return session.Session{}, &Error{Reason: ReasonInvalidCredentials, Message: "username and password are required"}
    }

    issuedAt := x.clock.Now()
    token, err := x.provider.Authenticate(ctx, username, password)
    if err != nil {
        aerr := classify(err)
        metrics.AuthAttempts.WithLabelValues(aerr.Reason).Inc()
        log.WithError(err).WithField("reason", aerr.Reason).Warn("credential exchange failed")
        return session.Session{}, aerr
    }

    ttl := x.defaultTTL
    if token.ExpiresIn > 0 {
        ttl = time.Duration(token.ExpiresIn) * time.Second
    }
    metrics.AuthAttempts.WithLabelValues("ok").Inc()
    log.WithField("expires_in", int(ttl.Seconds())).Info("session issued")

    return session.Session{
        UserID:      username,
        AccessToken: token.AccessToken,
        IssuedAt:    issuedAt,
        ExpiresAt:   issuedAt.Add(ttl),
    }, nil
}

func classify(err error) *Error {
    switch code := provider.StatusCode(err); {
    case code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden:
        msg := ErrInvalidCredentials.Message
        var se *provider.StatusError
        if errors.As(err, &se) && se.Body != "" {
            msg = se.Body
        }
        return &Error{Reason: ReasonInvalidCredentials, Message: msg, Err: err}
    case code != 0:
        return &Error{Reason: ReasonUpstreamUnavailable, Message: ErrUpstreamUnavailable.Message, Err: err}
    case errors.Is(err, provider.ErrMalformed):
        return &Error{Reason: ReasonMalformedResponse, Message: ErrMalformedResponse.Message, Err: err}
    default:
        return &Error{Reason: ReasonUpstreamUnavailable, Message: ErrUpstreamUnavailable.Message, Err: err}
    }
}
