package market_test

import (
    "testing"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/stretchr/testify/require"

    "github.com/balisaikiran/pothos-backend/internal/config"
    "github.com/balisaikiran/pothos-backend/internal/market"
)

func TestOptionsFromConfig(t *testing.T) {
    t.Parallel()

    // Arrange
    clock := clockwork.NewFakeClock()
    cfg := config.Default().Market
    cfg.SymbolTimeoutSec = 7
    cfg.RetryTimeoutSec = 3
    cfg.MaxRetries = 4
    cfg.BackoffMillis = 100
    cfg.ExpiryProbeLimit = 5
    cfg.ExpiryCacheTTLSec = 60

    // Act
    opts := market.OptionsFromConfig(cfg, clock)

    // Assert: every configured knob is carried over
    require.Equal(t, cfg.MaxConcurrency, opts.MaxConcurrency)
    require.Equal(t, 7*time.Second, opts.SymbolTimeout)
    require.Equal(t, 3*time.Second, opts.RetryTimeout)
    require.Equal(t, 4, opts.MaxRetries)
    require.Equal(t, 100*time.Millisecond, opts.Backoff)
    require.Equal(t, 5, opts.ExpiryProbeLimit)
    require.Equal(t, cfg.IncludeIV, opts.IncludeIV)
    require.InDelta(t, cfg.RiskFreeRate, opts.RiskFreeRate, 1e-12)
    require.NotNil(t, opts.Expiries)
    require.Equal(t, time.Minute, opts.Expiries.TTL)
    require.Equal(t, 4*len(cfg.Symbols), opts.Expiries.MaxItems)
    require.Equal(t, clock, opts.Clock)
}
