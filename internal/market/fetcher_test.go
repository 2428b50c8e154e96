package market_test

import (
    "context"
    "fmt"
    "net/http"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/require"

    "github.com/balisaikiran/pothos-backend/internal/config"
    "github.com/balisaikiran/pothos-backend/internal/market"
    "github.com/balisaikiran/pothos-backend/internal/optionchain"
    "github.com/balisaikiran/pothos-backend/internal/provider"
    "github.com/balisaikiran/pothos-backend/internal/provider/cache"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

var now = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type fakeMarket struct {
    spot  func(symbol string, attempt int) (provider.Spot, error)
    chain func(symbol, expiry string) (provider.OptionChain, error)

    mu          sync.Mutex
    spotCalls   map[string]int
    chainCalls  []string
    inFlight    atomic.Int32
    maxInFlight atomic.Int32
}

func (f *fakeMarket) Name() string { return "fake" }

func (f *fakeMarket) Spot(_ context.Context, _, symbol, _ string) (provider.Spot, error) {
    n := f.inFlight.Add(1)
    defer f.inFlight.Add(-1)
    for {
        m := f.maxInFlight.Load()
        if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
            break
        }
    }

    f.mu.Lock()
    if f.spotCalls == nil {
        f.spotCalls = make(map[string]int)
    }
    f.spotCalls[symbol]++
    attempt := f.spotCalls[symbol]
    f.mu.Unlock()

    if f.spot == nil {
        return provider.Spot{Symbol: symbol, LTP: 100}, nil
    }
    return f.spot(symbol, attempt)
}

func (f *fakeMarket) OptionChain(_ context.Context, _, symbol, expiry string) (provider.OptionChain, error) {
    f.mu.Lock()
    f.chainCalls = append(f.chainCalls, symbol+"@"+expiry)
    f.mu.Unlock()
    if f.chain == nil {
        return provider.OptionChain{Symbol: symbol, Expiry: expiry}, nil
    }
    return f.chain(symbol, expiry)
}

func (f *fakeMarket) calls(symbol string) int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.spotCalls[symbol]
}

func (f *fakeMarket) chainRequests() []string {
    f.mu.Lock()
    defer f.mu.Unlock()
    return append([]string(nil), f.chainCalls...)
}

func validSession() session.Session {
    return session.Session{UserID: "demo", AccessToken: "tok", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
}

func newFetcher(md provider.MarketData, clock clockwork.Clock, mutate func(*market.Options)) *market.Fetcher {
    opts := market.DefaultOptions()
    opts.IncludeIV = false
    opts.Clock = clock
    if mutate != nil {
        mutate(&opts)
    }
    return market.NewFetcher(md, opts)
}

func defaultUniverse() market.Universe {
    return market.NewUniverse(config.DefaultSymbols, []string{"NIFTY", "BANKNIFTY"})
}

func TestFetchQuotes_RowsInUniverseOrderWithInlineError(t *testing.T) {
    t.Parallel()

    // Arrange: every symbol quotes except TCS
    md := &fakeMarket{spot: func(symbol string, _ int) (provider.Spot, error) {
        if symbol == "TCS" {
            return provider.Spot{}, &provider.StatusError{Op: "spot TCS", StatusCode: http.StatusNotFound}
        }
        prev := 100.0
        return provider.Spot{Symbol: symbol, LTP: 101, PrevClose: &prev}, nil
    }}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), nil)
    u := defaultUniverse()

    // Act
    rows, err := f.FetchQuotes(t.Context(), validSession(), u)

    // Assert
    require.NoError(t, err)
    require.Len(t, rows, 20)
    for i, sym := range u.Symbols() {
        require.Equal(t, sym, rows[i].Symbol)
        if sym == "TCS" {
            require.Equal(t, market.CodeSymbolUnavailable, rows[i].Error)
            require.Nil(t, rows[i].Spot)
            continue
        }
        require.Empty(t, rows[i].Error)
        require.NotNil(t, rows[i].Spot)
        require.InDelta(t, 1.0, *rows[i].ChangePercent, 1e-9)
        require.Equal(t, market.Neutral, rows[i].Signal)
    }
    require.Equal(t, 1, md.calls("TCS"), "symbol_unavailable is not retried")
}

func TestFetchQuotes_BoundedConcurrency(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{spot: func(symbol string, _ int) (provider.Spot, error) {
        time.Sleep(5 * time.Millisecond)
        return provider.Spot{Symbol: symbol, LTP: 1}, nil
    }}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), func(o *market.Options) { o.MaxConcurrency = 3 })

    _, err := f.FetchQuotes(t.Context(), validSession(), defaultUniverse())
    require.NoError(t, err)
    require.LessOrEqual(t, md.maxInFlight.Load(), int32(3))
}

func TestFetchQuotes_TokenExpiredAbortsBatch(t *testing.T) {
    t.Parallel()

    for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
        md := &fakeMarket{spot: func(symbol string, _ int) (provider.Spot, error) {
            if symbol == "RELIANCE" {
                return provider.Spot{}, &provider.StatusError{Op: "spot", StatusCode: status}
            }
            return provider.Spot{Symbol: symbol, LTP: 1}, nil
        }}
        f := newFetcher(md, clockwork.NewFakeClockAt(now), nil)

        rows, err := f.FetchQuotes(t.Context(), validSession(), defaultUniverse())

        require.ErrorIs(t, err, market.ErrTokenExpired)
        require.Nil(t, rows)
        require.Equal(t, 1, md.calls("RELIANCE"), "token_expired is not retried")
    }
}

func TestFetchQuotes_ExpiredSessionMakesNoCalls(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{}
    clock := clockwork.NewFakeClockAt(now.Add(2 * time.Hour))
    f := newFetcher(md, clock, nil)

    _, err := f.FetchQuotes(t.Context(), validSession(), defaultUniverse())
    require.ErrorIs(t, err, market.ErrTokenExpired)

    _, err = f.FetchOptionChain(t.Context(), validSession(), "NIFTY", "")
    require.ErrorIs(t, err, market.ErrTokenExpired)

    require.Zero(t, md.calls("NIFTY"))
    require.Empty(t, md.chainRequests())
}

func TestFetchQuotes_RetriesRateLimitedWithBackoff(t *testing.T) {
    t.Parallel()

    // Arrange: two 429s, then success
    md := &fakeMarket{spot: func(symbol string, attempt int) (provider.Spot, error) {
        if attempt <= 2 {
            return provider.Spot{}, &provider.StatusError{Op: "spot", StatusCode: http.StatusTooManyRequests}
        }
        return provider.Spot{Symbol: symbol, LTP: 42}, nil
    }}
    clock := clockwork.NewFakeClockAt(now)
    f := newFetcher(md, clock, nil)
    u := market.NewUniverse([]string{"INFY"}, nil)

    type result struct {
        rows []market.QuoteResult
        err  error
    }
    done := make(chan result, 1)

    // Act
    go func() {
        rows, err := f.FetchQuotes(t.Context(), validSession(), u)
        done <- result{rows, err}
    }()

    // Assert: backoff doubles from 250ms and is driven by the clock
    ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
    defer cancel()
    require.NoError(t, clock.BlockUntilContext(ctx, 1))
    clock.Advance(249 * time.Millisecond)
    require.Equal(t, 1, md.calls("INFY"))
    clock.Advance(time.Millisecond)

    require.NoError(t, clock.BlockUntilContext(ctx, 1))
    require.Equal(t, 2, md.calls("INFY"))
    clock.Advance(500 * time.Millisecond)

    res := <-done
    require.NoError(t, res.err)
    require.Len(t, res.rows, 1)
    require.Empty(t, res.rows[0].Error)
    require.InDelta(t, 42.0, *res.rows[0].Spot, 1e-9)
    require.Equal(t, 3, md.calls("INFY"))
}

func TestFetchQuotes_RateLimitedGivesUp(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{spot: func(string, int) (provider.Spot, error) {
        return provider.Spot{}, &provider.StatusError{Op: "spot", StatusCode: http.StatusTooManyRequests}
    }}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), func(o *market.Options) { o.Backoff = 0 })

    rows, err := f.FetchQuotes(t.Context(), validSession(), market.NewUniverse([]string{"ITC"}, nil))
    require.NoError(t, err)
    require.Equal(t, market.CodeRateLimited, rows[0].Error)
    require.Equal(t, 3, md.calls("ITC"))
}

func TestFetchQuotes_UpstreamTimeoutRetriedOnce(t *testing.T) {
    t.Parallel()

    cases := []struct {
        name string
        err  error
    }{
        {name: "deadline", err: fmt.Errorf("performing request: %w", context.DeadlineExceeded)},
        {name: "server error", err: &provider.StatusError{Op: "spot", StatusCode: http.StatusBadGateway}},
        {name: "transport", err: fmt.Errorf("performing request: connection reset")},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            t.Parallel()

            // recovers on the retry
            md := &fakeMarket{spot: func(symbol string, attempt int) (provider.Spot, error) {
                if attempt == 1 {
                    return provider.Spot{}, tc.err
                }
                return provider.Spot{Symbol: symbol, LTP: 7}, nil
            }}
            f := newFetcher(md, clockwork.NewFakeClockAt(now), nil)
            rows, err := f.FetchQuotes(t.Context(), validSession(), market.NewUniverse([]string{"SBIN"}, nil))
            require.NoError(t, err)
            require.Empty(t, rows[0].Error)
            require.Equal(t, 2, md.calls("SBIN"))

            // fails twice
            md = &fakeMarket{spot: func(string, int) (provider.Spot, error) { return provider.Spot{}, tc.err }}
            f = newFetcher(md, clockwork.NewFakeClockAt(now), nil)
            rows, err = f.FetchQuotes(t.Context(), validSession(), market.NewUniverse([]string{"SBIN"}, nil))
            require.NoError(t, err)
            require.Equal(t, market.CodeUpstreamTimeout, rows[0].Error)
            require.Equal(t, 2, md.calls("SBIN"))
        })
    }
}

func TestFetchQuotes_MissingLTPIsUnavailable(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{spot: func(symbol string, _ int) (provider.Spot, error) {
        return provider.Spot{}, fmt.Errorf("spot %s: %w", symbol, provider.ErrNoData)
    }}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), nil)

    rows, err := f.FetchQuotes(t.Context(), validSession(), market.NewUniverse([]string{"LT"}, nil))
    require.NoError(t, err)
    require.Equal(t, market.CodeSymbolUnavailable, rows[0].Error)
    require.Equal(t, 1, md.calls("LT"))
}

func TestFetchQuotes_CanceledContext(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), nil)
    ctx, cancel := context.WithCancel(t.Context())
    cancel()

    _, err := f.FetchQuotes(ctx, validSession(), defaultUniverse())
    require.ErrorIs(t, err, context.Canceled)
}

// chainRow builds a provider option-chain row for strike with the given
// call and put last traded prices.
func chainRow(symbol string, strike, callLTP, putLTP float64) []any {
    r := make([]any, 21)
    r[0] = symbol
    r[4] = callLTP
    r[11] = strike
    r[18] = putLTP
    return r
}

func TestFetchQuotes_ProviderIVAndPercentile(t *testing.T) {
    t.Parallel()

    // Arrange: the nearest weekly expiry is empty, the monthly has data
    md := &fakeMarket{
        spot: func(symbol string, _ int) (provider.Spot, error) {
            prev := 200.0
            return provider.Spot{Symbol: symbol, LTP: 210, PrevClose: &prev}, nil
        },
        chain: func(symbol, expiry string) (provider.OptionChain, error) {
            if expiry != "29-10-2026" {
                return provider.OptionChain{Symbol: symbol, Expiry: expiry}, nil
            }
            iv, ivp := 18.456, 85.0
            return provider.OptionChain{Symbol: symbol, Expiry: expiry, IV: &iv, IVPercentile: &ivp, Records: [][]any{chainRow(symbol, 210, 5, 5)}}, nil
        },
    }
    expiries := &cache.Expiries{TTL: 6 * time.Hour, Clock: clockwork.NewFakeClockAt(now)}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), func(o *market.Options) {
        o.IncludeIV = true
        o.Expiries = expiries
    })
    u := market.NewUniverse([]string{"HDFCBANK"}, nil)

    // Act
    rows, err := f.FetchQuotes(t.Context(), validSession(), u)

    // Assert
    require.NoError(t, err)
    row := rows[0]
    require.InDelta(t, 18.46, *row.IV, 1e-9)
    require.InDelta(t, 85.0, *row.IVPercentile, 1e-9)
    require.InDelta(t, 5.0, *row.ChangePercent, 1e-9)
    require.Equal(t, market.HighVolatility, row.Signal)
    require.Equal(t, []string{"HDFCBANK@22-10-2026", "HDFCBANK@29-10-2026"}, md.chainRequests())

    // the discovered expiry is reused on the next cycle
    cached, ok := expiries.Get("HDFCBANK")
    require.True(t, ok)
    require.Equal(t, "29-10-2026", cached)
    _, err = f.FetchQuotes(t.Context(), validSession(), u)
    require.NoError(t, err)
    require.Len(t, md.chainRequests(), 3)
    require.Equal(t, "HDFCBANK@29-10-2026", md.chainRequests()[2])
}

func TestFetchQuotes_SolvesATMImpliedVol(t *testing.T) {
    t.Parallel()

    const spot = 1000.0
    exp, err := optionchain.ParseExpiry("22-10-2026")
    require.NoError(t, err)
    tte := optionchain.YearsToExpiry(exp, now)

    md := &fakeMarket{
        spot: func(symbol string, _ int) (provider.Spot, error) {
            return provider.Spot{Symbol: symbol, LTP: spot}, nil
        },
        chain: func(symbol, expiry string) (provider.OptionChain, error) {
            var records [][]any
            for _, k := range []float64{980, 990, 1000, 1010, 1020} {
                c := optionchain.Price(optionchain.Call, spot, k, tte, 0.065, 0.22)
                p := optionchain.Price(optionchain.Put, spot, k, tte, 0.065, 0.22)
                records = append(records, chainRow(symbol, k, c, p))
            }
            return provider.OptionChain{Symbol: symbol, Expiry: expiry, Records: records}, nil
        },
    }
    f := newFetcher(md, clockwork.NewFakeClockAt(now), func(o *market.Options) { o.IncludeIV = true })

    rows, err := f.FetchQuotes(t.Context(), validSession(), market.NewUniverse([]string{"NIFTY"}, []string{"NIFTY"}))

    require.NoError(t, err)
    require.NotNil(t, rows[0].IV)
    require.InDelta(t, 22.0, *rows[0].IV, 0.1)
    require.Nil(t, rows[0].IVPercentile)
    require.Equal(t, market.Neutral, rows[0].Signal)
}

func TestFetchQuotes_IVFailureDegrades(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{chain: func(symbol, expiry string) (provider.OptionChain, error) {
        return provider.OptionChain{}, &provider.StatusError{Op: "optionchain", StatusCode: http.StatusNotFound}
    }}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), func(o *market.Options) { o.IncludeIV = true })

    rows, err := f.FetchQuotes(t.Context(), validSession(), market.NewUniverse([]string{"ITC"}, nil))
    require.NoError(t, err)
    require.Empty(t, rows[0].Error)
    require.NotNil(t, rows[0].Spot)
    require.Nil(t, rows[0].IV)
    require.Len(t, md.chainRequests(), 3, "probing stops at the limit")
}

func TestFetchQuotes_IVTokenExpiredAbortsBatch(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{chain: func(string, string) (provider.OptionChain, error) {
        return provider.OptionChain{}, &provider.StatusError{Op: "optionchain", StatusCode: http.StatusUnauthorized}
    }}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), func(o *market.Options) { o.IncludeIV = true })

    _, err := f.FetchQuotes(t.Context(), validSession(), market.NewUniverse([]string{"ITC"}, nil))
    require.ErrorIs(t, err, market.ErrTokenExpired)
}

func TestFetchOptionChain(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{chain: func(symbol, expiry string) (provider.OptionChain, error) {
        return provider.OptionChain{Symbol: symbol, Expiry: expiry, Records: [][]any{
            chainRow(symbol, 24100, 90, 140),
            chainRow(symbol, 24000, 150, 95),
        }}, nil
    }}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), nil)

    // Act: empty expiry selects next month's last Thursday
    entries, err := f.FetchOptionChain(t.Context(), validSession(), "NIFTY", "")

    // Assert
    require.NoError(t, err)
    require.Equal(t, []string{"NIFTY@26-11-2026"}, md.chainRequests())
    require.Len(t, entries, 2)
    require.InDelta(t, 24000.0, entries[0].Strike, 1e-9)
    require.Equal(t, "26-11-2026", entries[0].Expiry)
    require.InDelta(t, 150.0, *entries[0].Call.LTP, 1e-9)
}

func TestFetchOptionChain_Errors(t *testing.T) {
    t.Parallel()

    md := &fakeMarket{chain: func(symbol, expiry string) (provider.OptionChain, error) {
        switch symbol {
        case "EMPTY":
            return provider.OptionChain{Symbol: symbol, Expiry: expiry}, nil
        case "GONE":
            return provider.OptionChain{}, &provider.StatusError{Op: "optionchain", StatusCode: http.StatusNotFound}
        default:
            return provider.OptionChain{}, &provider.StatusError{Op: "optionchain", StatusCode: http.StatusUnauthorized}
        }
    }}
    f := newFetcher(md, clockwork.NewFakeClockAt(now), nil)

    _, err := f.FetchOptionChain(t.Context(), validSession(), "EMPTY", "26-11-2026")
    require.ErrorIs(t, err, market.ErrSymbolUnavailable)

    _, err = f.FetchOptionChain(t.Context(), validSession(), "GONE", "26-11-2026")
    require.ErrorIs(t, err, market.ErrSymbolUnavailable)

    _, err = f.FetchOptionChain(t.Context(), validSession(), "TCS", "26-11-2026")
    require.ErrorIs(t, err, market.ErrTokenExpired)

    _, err = f.FetchOptionChain(t.Context(), validSession(), "TCS", "2026-11-26")
    require.ErrorIs(t, err, market.ErrInvalidExpiry)
}
