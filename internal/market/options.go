package market

import (
    "time"

    "github.com/jonboulle/clockwork"

    "github.com/balisaikiran/pothos-backend/internal/config"
    "github.com/balisaikiran/pothos-backend/internal/provider/cache"
)

// OptionsFromConfig builds fetcher options from the market section of the
// configuration, with an expiry cache sized for the configured universe.
func OptionsFromConfig(cfg config.Market, clock clockwork.Clock) Options {
    return Options{
        MaxConcurrency:   cfg.MaxConcurrency,
        SymbolTimeout:    time.Duration(cfg.SymbolTimeoutSec) * time.Second,
        RetryTimeout:     time.Duration(cfg.RetryTimeoutSec) * time.Second,
        MaxRetries:       cfg.MaxRetries,
        Backoff:          time.Duration(cfg.BackoffMillis) * time.Millisecond,
        IncludeIV:        cfg.IncludeIV,
        ExpiryProbeLimit: cfg.ExpiryProbeLimit,
        RiskFreeRate:     cfg.RiskFreeRate,
        Expiries: &cache.Expiries{
            TTL:      time.Duration(cfg.ExpiryCacheTTLSec) * time.Second,
            MaxItems: 4 * len(cfg.Symbols),
            Clock:    clock,
        },
        Clock: clock,
    }
}
