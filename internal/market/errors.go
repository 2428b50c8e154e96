package market

import (
    "context"
    "errors"
    "fmt"
    "net/http"

    "github.com/balisaikiran/pothos-backend/internal/provider"
)

// Fetch error codes, reported inline in dashboard rows.
const (
    CodeTokenExpired      = "token_expired"
    CodeRateLimited       = "rate_limited"
    CodeSymbolUnavailable = "symbol_unavailable"
    CodeUpstreamTimeout   = "upstream_timeout"
)

// FetchError is a failed provider call for one symbol.
type FetchError struct {
    Code   string
    Symbol string
    Err    error
}

func (e *FetchError) Error() string {
    msg := e.Code
    if e.Symbol != "" {
        msg = fmt.Sprintf("%s: %s", e.Symbol, e.Code)
    }
    if e.Err != nil {
        return msg + ": " + e.Err.Error()
    }
    return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches on Code.
func (e *FetchError) Is(target error) bool {
    t, ok := target.(*FetchError)
    return ok && t.Code == e.Code
}

var (
    ErrTokenExpired      = &FetchError{Code: CodeTokenExpired}
    ErrRateLimited       = &FetchError{Code: CodeRateLimited}
    ErrSymbolUnavailable = &FetchError{Code: CodeSymbolUnavailable}
    ErrUpstreamTimeout   = &FetchError{Code: CodeUpstreamTimeout}

    ErrInvalidExpiry = errors.New("invalid expiry, want DD-MM-YYYY")
)

func classify(symbol string, err error) *FetchError {
    var fe *FetchError
    if errors.As(err, &fe) {
        return fe
    }
    code := CodeUpstreamTimeout
    switch status := provider.StatusCode(err); {
    case status == http.StatusUnauthorized || status == http.StatusForbidden:
        code = CodeTokenExpired
    case status == http.StatusTooManyRequests:
        code = CodeRateLimited
    case status >= 400 && status < 500:
        code = CodeSymbolUnavailable
    case status >= 500:
        code = CodeUpstreamTimeout
    case errors.Is(err, provider.ErrNoData), errors.Is(err, provider.ErrMalformed):
        code = CodeSymbolUnavailable
    case errors.Is(err, context.DeadlineExceeded):
        code = CodeUpstreamTimeout
    }
    return &FetchError{Code: code, Symbol: symbol, Err: err}
}
