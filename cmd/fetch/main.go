// Command fetch logs in to the market data provider and prints one
// dashboard snapshot as JSON.
package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/jonboulle/clockwork"

    "github.com/balisaikiran/pothos-backend/internal/auth"
    "github.com/balisaikiran/pothos-backend/internal/config"
    "github.com/balisaikiran/pothos-backend/internal/httpx"
    "github.com/balisaikiran/pothos-backend/internal/logger"
    "github.com/balisaikiran/pothos-backend/internal/market"
    "github.com/balisaikiran/pothos-backend/internal/provider/ratelimit"
    "github.com/balisaikiran/pothos-backend/internal/provider/truedata"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

func main() {
    var (
        configPath string
        username   string
        password   string
        token      string
        symbolsCSV string
        timeout    int
        noIV       bool
    )
    flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
    flag.StringVar(&username, "user", getenv("TRUEDATA_USERNAME", ""), "provider username")
    flag.StringVar(&password, "password", getenv("TRUEDATA_PASSWORD", ""), "provider password")
    flag.StringVar(&token, "token", getenv("TRUEDATA_TOKEN", ""), "existing access token (skips login)")
    flag.StringVar(&symbolsCSV, "symbols", "", "comma-separated symbols (default: configured universe)")
    flag.IntVar(&timeout, "timeout", 60, "overall timeout seconds")
    flag.BoolVar(&noIV, "no-iv", false, "skip implied volatility lookups")
    flag.Parse()

    log := logger.GetLogger()

    cfg, err := config.Load(configPath)
    if err != nil {
        log.WithError(err).Fatal("config")
    }
    logger.SetLevel(cfg.Log.Level)
    if symbols := splitCSV(symbolsCSV); len(symbols) > 0 {
        cfg.Market.Symbols = symbols
    }
    if noIV {
        cfg.Market.IncludeIV = false
    }

    clock := clockwork.NewRealClock()
    client, err := truedata.NewClient(
        truedata.WithName(cfg.Provider.Name),
        truedata.WithAuthURL(cfg.Provider.AuthURL),
        truedata.WithBaseURL(cfg.Provider.AnalyticsURL),
        truedata.WithHTTPClient(httpx.New(time.Duration(cfg.Provider.TimeoutSec)*time.Second)),
    )
    if err != nil {
        log.WithError(err).Fatal("provider client")
    }

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
    defer cancel()

    sess := session.Session{UserID: username, AccessToken: token, IssuedAt: clock.Now()}
    if token == "" {
        ex := auth.New(client, time.Duration(cfg.Provider.DefaultTokenTTLSec)*time.Second, clock)
        sess, err = ex.Authenticate(ctx, username, password)
        if err != nil {
            log.WithError(err).Fatal("login")
        }
        log.WithField("expires_at", sess.ExpiresAt.Format(time.RFC3339)).Info("logged in")
    }

    md := ratelimit.Wrap(client, cfg.Provider.MaxRequestsPerMinute, cfg.Provider.Burst,
        time.Duration(cfg.Provider.MinRequestIntervalSec)*time.Second)
    rows, err := market.NewFetcher(md, market.OptionsFromConfig(cfg.Market, clock)).FetchQuotes(ctx, sess, market.NewUniverse(cfg.Market.Symbols, cfg.Market.Indices))
    if err != nil {
        log.WithError(err).Fatal("dashboard")
    }

    failed := 0
    for _, r := range rows {
        if r.Error != "" {
            failed++
        }
    }
    log.WithField("rows", len(rows)).WithField("failed", failed).Info("dashboard fetched")

    out := struct {
        Data      []market.QuoteResult `json:"data"`
        Timestamp time.Time            `json:"timestamp"`
    }{Data: rows, Timestamp: clock.Now().UTC()}
    b, _ := json.MarshalIndent(out, "", "  ")
    fmt.Println(string(b))
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}

func getenv(key, def string) string { if v := os.Getenv(key); v != "" { return v }; return def }
