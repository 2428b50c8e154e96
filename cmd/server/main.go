package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/sirupsen/logrus"

    "github.com/balisaikiran/pothos-backend/internal/auth"
    "github.com/balisaikiran/pothos-backend/internal/config"
    "github.com/balisaikiran/pothos-backend/internal/httpx"
    "github.com/balisaikiran/pothos-backend/internal/logger"
    "github.com/balisaikiran/pothos-backend/internal/market"
    "github.com/balisaikiran/pothos-backend/internal/provider/ratelimit"
    "github.com/balisaikiran/pothos-backend/internal/provider/truedata"
    "github.com/balisaikiran/pothos-backend/internal/session"
    "github.com/balisaikiran/pothos-backend/internal/session/pgstore"
    "github.com/balisaikiran/pothos-backend/internal/session/redisstore"
)

func main() {
    log := logger.GetLogger()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    cfg, initErr := config.Load(os.Getenv("CONFIG_FILE"))
    logger.SetLevel(cfg.Log.Level)

    var (
        handler http.Handler
        closers []func() error
    )
    if initErr == nil {
        var a *app
        a, closers, initErr = newApp(ctx, cfg)
        if initErr == nil {
            handler = a.routes()
        }
    }
    if initErr != nil {
        log.WithError(initErr).Error("initialization failed, serving health only")
        handler = healthOnly()
    }
    defer func() {
        for _, c := range closers {
            _ = c()
        }
    }()

    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           boundary(withRequestID(withMetrics(withCORS(cfg.Server.CORSOrigins, withGzip(limitBody(handler))))), initErr),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec+10) * time.Second,
        IdleTimeout:       60 * time.Second,
    }

    go func() {
        log.Infof("server listening on :%s", cfg.Server.Port)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.WithError(err).Fatal("server")
        }
    }()

    // graceful shutdown
    <-ctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
}

// newApp wires the provider client, session store and fetcher from cfg.
// The returned closers release connections opened for the session store.
func newApp(ctx context.Context, cfg config.Config) (*app, []func() error, error) {
    clock := clockwork.NewRealClock()

    httpClient := httpx.New(time.Duration(cfg.Provider.TimeoutSec) * time.Second)
    client, err := truedata.NewClient(
        truedata.WithName(cfg.Provider.Name),
        truedata.WithAuthURL(cfg.Provider.AuthURL),
        truedata.WithBaseURL(cfg.Provider.AnalyticsURL),
        truedata.WithHTTPClient(httpClient),
    )
    if err != nil {
        return nil, nil, fmt.Errorf("provider client: %w", err)
    }

    store, closers, err := openStore(ctx, cfg.Sessions, clock)
    if err != nil {
        return nil, nil, err
    }

    md := ratelimit.Wrap(client, cfg.Provider.MaxRequestsPerMinute, cfg.Provider.Burst,
        time.Duration(cfg.Provider.MinRequestIntervalSec)*time.Second)

    opts := market.OptionsFromConfig(cfg.Market, clock)

    a := &app{
        auth:              auth.New(client, time.Duration(cfg.Provider.DefaultTokenTTLSec)*time.Second, clock),
        sessions:          store,
        fetcher:           market.NewFetcher(md, opts),
        universe:          market.NewUniverse(cfg.Market.Symbols, cfg.Market.Indices),
        clock:             clock,
        requestTimeout:    time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
        streamInterval:    time.Duration(cfg.Refresh.IntervalSec) * time.Second,
        minStreamInterval: time.Duration(cfg.Refresh.MinIntervalSec) * time.Second,
        log:               logger.Component("server"),
    }
    a.log.WithFields(logrus.Fields{
        "provider": client.Name(),
        "sessions": cfg.Sessions.Backend,
        "symbols":  a.universe.Len(),
    }).Info("application initialized")
    return a, closers, nil
}

func openStore(ctx context.Context, cfg config.SessionStore, clock clockwork.Clock) (session.Store, []func() error, error) {
    switch cfg.Backend {
    case "memory":
        return session.NewMemory(), nil, nil
    case "redis":
        client, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
        if err != nil {
            return nil, nil, err
        }
        return redisstore.New(client, cfg.KeyPrefix, clock), []func() error{client.Close}, nil
    case "postgres":
        store, err := pgstore.Open(ctx, cfg.PostgresDSN)
        if err != nil {
            return nil, nil, err
        }
        return store, []func() error{store.Close}, nil
    default:
        return session.Noop{}, nil, nil
    }
}
