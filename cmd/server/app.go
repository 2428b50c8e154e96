package main

import (
    "context"
    "net/http"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/sirupsen/logrus"

    "github.com/balisaikiran/pothos-backend/internal/market"
    "github.com/balisaikiran/pothos-backend/internal/optionchain"
    "github.com/balisaikiran/pothos-backend/internal/refresh"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

type authenticator interface {
    Authenticate(ctx context.Context, username, password string) (session.Session, error)
}

type marketFetcher interface {
    refresh.Fetcher
    FetchOptionChain(ctx context.Context, sess session.Session, symbol, expiry string) ([]optionchain.Entry, error)
}

type app struct {
    auth     authenticator
    sessions session.Store
    fetcher  marketFetcher
    universe market.Universe
    clock    clockwork.Clock

    requestTimeout    time.Duration
    streamInterval    time.Duration
    minStreamInterval time.Duration

    log *logrus.Entry
}

func (a *app) routes() http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("GET /health", handleHealth)
    mux.Handle("GET /metrics", promhttp.Handler())
    mux.HandleFunc("POST /auth/login", a.handleLogin)
    mux.HandleFunc("POST /auth/logout", a.handleLogout)
    mux.HandleFunc("GET /market/dashboard", a.handleDashboard)
    mux.HandleFunc("GET /market/optionchain/{symbol}", a.handleOptionChain)
    mux.HandleFunc("GET /market/stream", a.handleStream)
    return mux
}

func healthOnly() http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("GET /health", handleHealth)
    return mux
}

func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
    if a.requestTimeout <= 0 {
        return context.WithCancel(ctx)
    }
    return context.WithTimeout(ctx, a.requestTimeout)
}
