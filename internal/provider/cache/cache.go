package cache

import (
    "sync"
    "time"

    "github.com/jonboulle/clockwork"
)

// entry stores the discovered expiry for a single symbol.
type entry struct {
    expiresAt time.Time
    expiry    string
}

// Expiries remembers, per symbol, which option expiry last returned a
// non-empty chain so discovery does not probe the provider every cycle.
// It never holds quote values.
type Expiries struct {
    TTL      time.Duration
    MaxItems int
    Clock    clockwork.Clock

    mu    sync.RWMutex
    items map[string]entry // key: symbol
}

func (c *Expiries) now() time.Time {
    if c.Clock == nil {
        return time.Now()
    }
    return c.Clock.Now()
}

// Get returns the cached expiry for symbol while it is fresh.
func (c *Expiries) Get(symbol string) (string, bool) {
    if c == nil || c.TTL <= 0 {
        return "", false
    }
    c.mu.RLock()
    defer c.mu.RUnlock()
    e, ok := c.items[symbol]
    if !ok || !c.now().Before(e.expiresAt) {
        return "", false
    }
    return e.expiry, true
}

// Put records expiry for symbol.
func (c *Expiries) Put(symbol, expiry string) {
    if c == nil || c.TTL <= 0 {
        return
    }
    now := c.now()
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.items == nil {
        c.items = make(map[string]entry)
    }
    c.items[symbol] = entry{expiresAt: now.Add(c.TTL), expiry: expiry}

    // best-effort cap: drop expired entries first, then arbitrary ones
    if c.MaxItems > 0 && len(c.items) > c.MaxItems {
        for k, v := range c.items {
            if now.After(v.expiresAt) {
                delete(c.items, k)
            }
        }
        for k := range c.items {
            if len(c.items) <= c.MaxItems { break }
            if k == symbol { continue }
            delete(c.items, k)
        }
    }
}

// Forget drops symbol, e.g. after its cached expiry came back empty.
func (c *Expiries) Forget(symbol string) {
    if c == nil {
        return
    }
    c.mu.Lock()
    delete(c.items, symbol)
    c.mu.Unlock()
}
