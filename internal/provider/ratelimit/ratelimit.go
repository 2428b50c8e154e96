package ratelimit

import (
    "context"
    "sync"
    "time"

    "github.com/balisaikiran/pothos-backend/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between calls.
// Concurrent calls reserve consecutive slots, so n callers arriving
// together are spread over n intervals; a canceled context returns early.
type MinInterval struct {
    P        provider.MarketData
    Interval time.Duration

    mu   sync.Mutex
    next time.Time
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) wait(ctx context.Context) error {
    if m.Interval <= 0 {
        return nil
    }
    m.mu.Lock()
    now := time.Now()
    slot := m.next
    if slot.Before(now) {
        slot = now
    }
    m.next = slot.Add(m.Interval)
    m.mu.Unlock()

    wait := time.Until(slot)
    if wait <= 0 {
        return nil
    }
    t := time.NewTimer(wait)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

func (m *MinInterval) Spot(ctx context.Context, token, symbol, series string) (provider.Spot, error) {
    if err := m.wait(ctx); err != nil {
        return provider.Spot{}, err
    }
    return m.P.Spot(ctx, token, symbol, series)
}

func (m *MinInterval) OptionChain(ctx context.Context, token, symbol, expiry string) (provider.OptionChain, error) {
    if err := m.wait(ctx); err != nil {
        return provider.OptionChain{}, err
    }
    return m.P.OptionChain(ctx, token, symbol, expiry)
}

// Wrap applies the configured gate: a token bucket when a per-minute budget
// is set, otherwise a minimum interval, otherwise p unchanged.
func Wrap(p provider.MarketData, maxPerMinute, burst int, minInterval time.Duration) provider.MarketData {
    if maxPerMinute > 0 {
        if burst <= 0 { burst = 1 }
        return &TokenBucketProvider{P: p, TB: NewTokenBucket(float64(maxPerMinute)/60.0, burst)}
    }
    if minInterval > 0 {
        return &MinInterval{P: p, Interval: minInterval}
    }
    return p
}
