package market

import (
    "context"
    "errors"
    "fmt"

    "github.com/balisaikiran/pothos-backend/internal/optionchain"
    "github.com/balisaikiran/pothos-backend/internal/provider"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

// FetchOptionChain returns the parsed chain for symbol at expiry
// (DD-MM-YYYY), sorted by strike. An empty expiry selects the next
// monthly expiry.
func (f *Fetcher) FetchOptionChain(ctx context.Context, sess session.Session, symbol, expiry string) ([]optionchain.Entry, error) {
    now := f.clock.Now()
    if sess.Expired(now) {
        return nil, ErrTokenExpired
    }
    if expiry == "" {
        expiry = optionchain.NextMonthlyExpiry(now)
    } else if _, err := optionchain.ParseExpiry(expiry); err != nil {
        return nil, fmt.Errorf("%w: %q", ErrInvalidExpiry, expiry)
    }

    chain, err := f.chain(ctx, sess.AccessToken, symbol, expiry)
    if err != nil {
        return nil, err
    }
    entries := optionchain.Parse(chain.Records, symbol, expiry)
    if len(entries) == 0 {
        return nil, &FetchError{Code: CodeSymbolUnavailable, Symbol: symbol, Err: provider.ErrNoData}
    }
    return entries, nil
}

func (f *Fetcher) chain(ctx context.Context, token, symbol, expiry string) (provider.OptionChain, error) {
    return call(ctx, f, "optionchain", symbol, func(ctx context.Context) (provider.OptionChain, error) {
        return f.md.OptionChain(ctx, token, symbol, expiry)
    })
}

// impliedVol returns the symbol's IV (percent) and IV percentile. The
// provider's own IV is preferred; otherwise it is solved from the ATM
// strikes of the discovered chain.
func (f *Fetcher) impliedVol(ctx context.Context, token, symbol string, spot float64) (*float64, *float64, error) {
    chain, err := f.discoverChain(ctx, token, symbol)
    if err != nil {
        return nil, nil, err
    }
    ivp := chain.IVPercentile
    if ivp != nil {
        v := round2(*ivp)
        ivp = &v
    }
    if chain.IV != nil {
        iv := round2(*chain.IV)
        return &iv, ivp, nil
    }

    exp, err := optionchain.ParseExpiry(chain.Expiry)
    if err != nil {
        return nil, ivp, fmt.Errorf("chain expiry %q: %w", chain.Expiry, err)
    }
    entries := optionchain.Parse(chain.Records, symbol, chain.Expiry)
    tte := optionchain.YearsToExpiry(exp, f.clock.Now())
    iv, ok := optionchain.ATMImpliedVol(entries, spot, tte, f.opts.RiskFreeRate)
    if !ok {
        return nil, ivp, nil
    }
    return &iv, ivp, nil
}

// discoverChain finds an expiry with a non-empty chain. A cached expiry is
// tried first; otherwise candidates are probed up to the probe limit.
// Concurrent discoveries for the same symbol and token share one probe.
func (f *Fetcher) discoverChain(ctx context.Context, token, symbol string) (provider.OptionChain, error) {
    v, err, _ := f.discover.Do(token+"|"+symbol, func() (any, error) {
        if exp, ok := f.opts.Expiries.Get(symbol); ok {
            chain, err := f.chain(ctx, token, symbol, exp)
            if errors.Is(err, ErrTokenExpired) {
                return nil, err
            }
            if err == nil && len(chain.Records) > 0 {
                return chain, nil
            }
            f.opts.Expiries.Forget(symbol)
        }

        var lastErr error
        probes := 0
        for _, exp := range optionchain.CandidateExpiries(f.clock.Now()) {
            if probes >= f.opts.ExpiryProbeLimit {
                break
            }
            probes++
            chain, err := f.chain(ctx, token, symbol, exp)
            if err != nil {
                if errors.Is(err, ErrTokenExpired) || ctx.Err() != nil {
                    return nil, err
                }
                lastErr = err
                continue
            }
            if len(chain.Records) > 0 {
                f.opts.Expiries.Put(symbol, exp)
                return chain, nil
            }
        }
        if lastErr == nil {
            lastErr = provider.ErrNoData
        }
        return nil, &FetchError{Code: CodeSymbolUnavailable, Symbol: symbol, Err: lastErr}
    })
    if err != nil {
        return provider.OptionChain{}, err
    }
    return v.(provider.OptionChain), nil
}
