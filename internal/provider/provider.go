package provider

import (
    "context"
    "errors"
    "fmt"
)

// Token is the provider's answer to a password-grant exchange.
type Token struct {
    AccessToken string `json:"access_token"`
    TokenType   string `json:"token_type"`
    // ExpiresIn is the validity window in seconds; 0 when not reported.
    ExpiresIn int `json:"expires_in"`
}

// Spot is one spot snapshot. Optional fields are nil when the provider
// does not report them.
type Spot struct {
    Symbol    string
    LTP       float64
    PrevClose *float64
    Volume    *int64
}

// OptionChain is a raw option chain for one (symbol, expiry). Records keep
// the provider's positional row layout; see package optionchain.
type OptionChain struct {
    Symbol       string
    Expiry       string
    IV           *float64
    IVPercentile *float64
    Records      [][]any
}

// Authenticator exchanges user credentials for an access token.
type Authenticator interface {
    Authenticate(ctx context.Context, username, password string) (Token, error)
}

// MarketData is the read-only market capability consumed by the fetcher.
type MarketData interface {
    Name() string
    Spot(ctx context.Context, token, symbol, series string) (Spot, error)
    OptionChain(ctx context.Context, token, symbol, expiry string) (OptionChain, error)
}

var (
    // ErrNoData reports a successful response that carried nothing usable
    // for the requested instrument.
    ErrNoData = errors.New("no data")
    // ErrMalformed reports a successful response missing required fields.
    ErrMalformed = errors.New("malformed response")
)

// StatusError reports a non-2xx provider response.
type StatusError struct {
    Op         string
    StatusCode int
    Body       string
}

func (e *StatusError) Error() string {
    if e.Body != "" {
        return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
    }
    return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

// StatusCode extracts the provider status from err, or 0.
func StatusCode(err error) int {
    var se *StatusError
    if errors.As(err, &se) {
        return se.StatusCode
    }
    return 0
}
