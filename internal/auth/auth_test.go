package auth_test

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "testing"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/require"

    "github.com/balisaikiran/pothos-backend/internal/auth"
    "github.com/balisaikiran/pothos-backend/internal/provider"
)

type fakeAuthenticator struct {
    token provider.Token
    err   error
    calls int
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, _, _ string) (provider.Token, error) {
    f.calls++
    return f.token, f.err
}

var issued = time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC)

func TestAuthenticate_UsesExpiresIn(t *testing.T) {
    t.Parallel()

    // Arrange
    p := &fakeAuthenticator{token: provider.Token{AccessToken: "abc", ExpiresIn: 3600}}
    x := auth.New(p, 10*time.Minute, clockwork.NewFakeClockAt(issued))

    // Act
    s, err := x.Authenticate(t.Context(), "demo", "secret")

    // Assert
    require.NoError(t, err)
    require.Equal(t, "demo", s.UserID)
    require.Equal(t, "abc", s.AccessToken)
    require.True(t, s.IssuedAt.Equal(issued))
    require.True(t, s.ExpiresAt.Equal(issued.Add(3600*time.Second)))
    require.True(t, s.ExpiresAt.After(s.IssuedAt))
}

func TestAuthenticate_DefaultTTL(t *testing.T) {
    t.Parallel()

    p := &fakeAuthenticator{token: provider.Token{AccessToken: "abc"}}
    x := auth.New(p, 30*time.Minute, clockwork.NewFakeClockAt(issued))

    s, err := x.Authenticate(t.Context(), "demo", "secret")
    require.NoError(t, err)
    require.Equal(t, 30*time.Minute, s.ExpiresAt.Sub(s.IssuedAt))
}

func TestAuthenticate_EmptyCredentialsSkipProvider(t *testing.T) {
    t.Parallel()

    p := &fakeAuthenticator{}
    x := auth.New(p, time.Hour, clockwork.NewFakeClockAt(issued))

    for _, c := range [][2]string{{"", "secret"}, {"  ", "secret"}, {"demo", ""}} {
        _, err := x.Authenticate(t.Context(), c[0], c[1])
        require.ErrorIs(t, err, auth.ErrInvalidCredentials)
    }
    require.Zero(t, p.calls)
}

func TestAuthenticate_ErrorMapping(t *testing.T) {
    t.Parallel()

    cases := []struct {
        name string
        err  error
        want error
    }{
        {name: "bad request", err: &provider.StatusError{Op: "authenticate", StatusCode: http.StatusBadRequest, Body: "bad password"}, want: auth.ErrInvalidCredentials},
        {name: "unauthorized", err: &provider.StatusError{Op: "authenticate", StatusCode: http.StatusUnauthorized}, want: auth.ErrInvalidCredentials},
        {name: "forbidden", err: &provider.StatusError{Op: "authenticate", StatusCode: http.StatusForbidden}, want: auth.ErrInvalidCredentials},
        {name: "server error", err: &provider.StatusError{Op: "authenticate", StatusCode: http.StatusBadGateway}, want: auth.ErrUpstreamUnavailable},
        {name: "transport", err: fmt.Errorf("performing request: %w", errors.New("connection refused")), want: auth.ErrUpstreamUnavailable},
        {name: "timeout", err: context.DeadlineExceeded, want: auth.ErrUpstreamUnavailable},
        {name: "no token", err: fmt.Errorf("token response without access_token: %w", provider.ErrMalformed), want: auth.ErrMalformedResponse},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            t.Parallel()

            x := auth.New(&fakeAuthenticator{err: tc.err}, time.Hour, clockwork.NewFakeClockAt(issued))
            _, err := x.Authenticate(t.Context(), "demo", "secret")

            require.ErrorIs(t, err, tc.want)
            require.ErrorIs(t, err, tc.err)
            var aerr *auth.Error
            require.ErrorAs(t, err, &aerr)
            require.NotEmpty(t, aerr.Message)
        })
    }
}

func TestAuthenticate_KeepsProviderMessage(t *testing.T) {
    t.Parallel()

    p := &fakeAuthenticator{err: &provider.StatusError{Op: "authenticate", StatusCode: http.StatusBadRequest, Body: "The user name or password is incorrect."}}
    x := auth.New(p, time.Hour, nil)

    _, err := x.Authenticate(t.Context(), "demo", "wrong")
    var aerr *auth.Error
    require.ErrorAs(t, err, &aerr)
    require.Equal(t, "The user name or password is incorrect.", aerr.Message)
}
