package ratelimit

import (
    "context"
    "sync"
    "time"

    "github.com/balisaikiran/pothos-backend/internal/provider"
)

// TokenBucket provides a stdlib-only token bucket limiter.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
type TokenBucket struct {
    rate     float64
    capacity float64

    mu     sync.Mutex
    tokens float64
    last   time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
    if tokensPerSecond <= 0 { tokensPerSecond = 0.0000001 }
    if burst <= 0 { burst = 1 }
    return &TokenBucket{
        rate:     tokensPerSecond,
        capacity: float64(burst),
        tokens:   float64(burst), // start full to allow an initial burst
        last:     time.Now(),
    }
}

// Wait blocks until one token is available or ctx is canceled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
    for {
        tb.mu.Lock()
        now := time.Now()
        elapsed := now.Sub(tb.last).Seconds()
        if elapsed > 0 {
            tb.tokens += elapsed * tb.rate
            if tb.tokens > tb.capacity {
                tb.tokens = tb.capacity
            }
            tb.last = now
        }
        if tb.tokens >= 1 {
            tb.tokens -= 1
            tb.mu.Unlock()
            return nil
        }
        deficit := 1 - tb.tokens
        tb.mu.Unlock()
        waitDur := time.Duration(deficit/tb.rate*1e9) * time.Nanosecond
        if waitDur <= 0 { waitDur = time.Millisecond }
        timer := time.NewTimer(waitDur)
        select {
        case <-ctx.Done():
            timer.Stop()
            return ctx.Err()
        case <-timer.C:
        }
    }
}

// TokenBucketProvider wraps a market data provider and gates every
// upstream call, spot and option chain alike, on one shared bucket.
type TokenBucketProvider struct {
    P  provider.MarketData
    TB *TokenBucket
}

func (t *TokenBucketProvider) Name() string { return t.P.Name() }

func (t *TokenBucketProvider) Spot(ctx context.Context, token, symbol, series string) (provider.Spot, error) {
    if t.TB != nil {
        if err := t.TB.Wait(ctx); err != nil { return provider.Spot{}, err }
    }
    return t.P.Spot(ctx, token, symbol, series)
}

func (t *TokenBucketProvider) OptionChain(ctx context.Context, token, symbol, expiry string) (provider.OptionChain, error) {
    if t.TB != nil {
        if err := t.TB.Wait(ctx); err != nil { return provider.OptionChain{}, err }
    }
    return t.P.OptionChain(ctx, token, symbol, expiry)
}
