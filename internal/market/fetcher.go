package market

import (
    "context"
    "errors"
    "math"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/sirupsen/logrus"
    "golang.org/x/sync/errgroup"
    "golang.org/x/sync/singleflight"

    "github.com/balisaikiran/pothos-backend/internal/logger"
    "github.com/balisaikiran/pothos-backend/internal/metrics"
    "github.com/balisaikiran/pothos-backend/internal/provider"
    "github.com/balisaikiran/pothos-backend/internal/provider/cache"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

// QuoteResult is one dashboard row. Error holds a fetch error code when
// the symbol could not be quoted; the quote fields are then nil.
type QuoteResult struct {
    Symbol        string   `json:"symbol"`
    Spot          *float64 `json:"spot"`
    ChangePercent *float64 `json:"change_percent"`
    Volume        *int64   `json:"volume"`
    IV            *float64 `json:"iv"`
    IVPercentile  *float64 `json:"iv_percentile"`
    Signal        Signal   `json:"signal,omitempty"`
    Error         string   `json:"error,omitempty"`
}

type Options struct {
    MaxConcurrency int
    // SymbolTimeout bounds a single provider call.
    SymbolTimeout time.Duration
    // RetryTimeout bounds the retry after an upstream timeout.
    RetryTimeout time.Duration
    // MaxRetries caps retries of rate limited calls.
    MaxRetries int
    Backoff    time.Duration

    IncludeIV        bool
    ExpiryProbeLimit int
    RiskFreeRate     float64
    // Expiries remembers discovered option expiries; nil disables caching.
    Expiries *cache.Expiries
    Clock    clockwork.Clock
}

func DefaultOptions() Options {
    return Options{
        MaxConcurrency:   5,
        SymbolTimeout:    10 * time.Second,
        RetryTimeout:     5 * time.Second,
        MaxRetries:       2,
        Backoff:          250 * time.Millisecond,
        IncludeIV:        true,
        ExpiryProbeLimit: 3,
        RiskFreeRate:     0.065,
    }
}

// Fetcher reads quotes and option chains for a session. It holds no
// quote state between calls.
type Fetcher struct {
    md    provider.MarketData
    opts  Options
    clock clockwork.Clock
    log   *logrus.Entry

    discover singleflight.Group
}

func NewFetcher(md provider.MarketData, opts Options) *Fetcher {
    def := DefaultOptions()
    if opts.MaxConcurrency <= 0 {
        opts.MaxConcurrency = def.MaxConcurrency
    }
    if opts.SymbolTimeout <= 0 {
        opts.SymbolTimeout = def.SymbolTimeout
    }
    if opts.RetryTimeout <= 0 {
        opts.RetryTimeout = def.RetryTimeout
    }
    if opts.MaxRetries < 0 {
        opts.MaxRetries = 0
    }
    if opts.ExpiryProbeLimit <= 0 {
        opts.ExpiryProbeLimit = def.ExpiryProbeLimit
    }
    clock := opts.Clock
    if clock == nil {
        clock = clockwork.NewRealClock()
    }
    return &Fetcher{
        md:    md,
        opts:  opts,
        clock: clock,
        log:   logger.Component("market").WithField("provider", md.Name()),
    }
}

// FetchQuotes quotes every symbol of u, one row per symbol in universe
// order. Per-symbol failures are reported inline; a rejected token aborts
// the batch with ErrTokenExpired.
func (f *Fetcher) FetchQuotes(ctx context.Context, sess session.Session, u Universe) ([]QuoteResult, error) {
    if sess.Expired(f.clock.Now()) {
        return nil, ErrTokenExpired
    }

    symbols := u.Symbols()
    rows := make([]QuoteResult, len(symbols))

    g, gctx := errgroup.WithContext(ctx)
    g.SetLimit(f.opts.MaxConcurrency)
    for i, sym := range symbols {
        g.Go(func() error {
            if gctx.Err() != nil {
                return nil
            }
            row, err := f.quote(gctx, sess.AccessToken, sym, u.Series(sym))
            if errors.Is(err, ErrTokenExpired) {
                return err
            }
            rows[i] = row
            return nil
        })
    }
    if err := g.Wait(); err != nil {
        f.log.WithField("user", sess.UserID).Warn("provider rejected session token")
        return nil, err
    }
    if err := ctx.Err(); err != nil {
        return nil, err
    }

    for _, r := range rows {
        status := "ok"
        if r.Error != "" {
            status = r.Error
        }
        metrics.QuoteRows.WithLabelValues(status).Inc()
    }
    return rows, nil
}

func (f *Fetcher) quote(ctx context.Context, token, symbol, series string) (QuoteResult, error) {
    log := f.log.WithField("symbol", symbol)

    spot, err := call(ctx, f, "spot", symbol, func(ctx context.Context) (provider.Spot, error) {
        return f.md.Spot(ctx, token, symbol, series)
    })
    if err != nil {
        fe := classify(symbol, err)
        if fe.Code == CodeTokenExpired {
            return QuoteResult{}, fe
        }
        log.WithError(err).Warn("spot unavailable")
        return QuoteResult{Symbol: symbol, Error: fe.Code}, nil
    }

    row := QuoteResult{Symbol: symbol, Volume: spot.Volume}
    ltp := spot.LTP
    row.Spot = &ltp
    if spot.PrevClose != nil && *spot.PrevClose > 0 {
        change := round2((ltp - *spot.PrevClose) / *spot.PrevClose * 100)
        row.ChangePercent = &change
    }

    if f.opts.IncludeIV {
        iv, ivp, err := f.impliedVol(ctx, token, symbol, ltp)
        switch {
        case errors.Is(err, ErrTokenExpired):
            return QuoteResult{}, err
        case err != nil:
            log.WithError(err).Debug("implied volatility unavailable")
        default:
            row.IV, row.IVPercentile = iv, ivp
        }
    }
    row.Signal = Classify(row.ChangePercent, row.IVPercentile)
    return row, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
