package market

import (
    "context"
    "time"

    "github.com/balisaikiran/pothos-backend/internal/metrics"
)

// call runs one provider operation under the per-attempt timeout. Rate
// limited calls are retried with exponential backoff on the fetcher's
// clock; timeouts are retried once with the shorter retry timeout.
func call[T any](ctx context.Context, f *Fetcher, op, symbol string, do func(context.Context) (T, error)) (T, error) {
    var zero T
    timeout := f.opts.SymbolTimeout
    var rateRetries, timeoutRetries int
    for {
        attemptCtx, cancel := context.WithTimeout(ctx, timeout)
        v, err := do(attemptCtx)
        cancel()
        if err == nil {
            metrics.ProviderRequests.WithLabelValues(op, "ok").Inc()
            return v, nil
        }
        if ctx.Err() != nil {
            return zero, ctx.Err()
        }
        fe := classify(symbol, err)
        metrics.ProviderRequests.WithLabelValues(op, fe.Code).Inc()

        switch {
        case fe.Code == CodeRateLimited && rateRetries < f.opts.MaxRetries:
            delay := f.opts.Backoff << rateRetries
            rateRetries++
            if err := f.sleep(ctx, delay); err != nil {
                return zero, err
            }
        case fe.Code == CodeUpstreamTimeout && timeoutRetries < 1:
            timeoutRetries++
            timeout = f.opts.RetryTimeout
        default:
            return zero, fe
        }
        metrics.ProviderRetries.WithLabelValues(fe.Code).Inc()
        f.log.WithField("symbol", symbol).WithField("op", op).WithError(err).Debug("retrying provider call")
    }
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
    if d <= 0 {
        return nil
    }
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-f.clock.After(d):
        return nil
    }
}
