// Command chaindump writes the raw option chain rows for a symbol, plus
// the normalized strikes and ATM implied volatility, to a JSON file.
package main

import (
    "bufio"
    "context"
    "encoding/json"
    "flag"
    "os"
    "strings"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/sirupsen/logrus"

    "github.com/balisaikiran/pothos-backend/internal/auth"
    "github.com/balisaikiran/pothos-backend/internal/config"
    "github.com/balisaikiran/pothos-backend/internal/httpx"
    "github.com/balisaikiran/pothos-backend/internal/logger"
    "github.com/balisaikiran/pothos-backend/internal/market"
    "github.com/balisaikiran/pothos-backend/internal/optionchain"
    "github.com/balisaikiran/pothos-backend/internal/provider"
    "github.com/balisaikiran/pothos-backend/internal/provider/truedata"
)

type dump struct {
    Symbol       string              `json:"symbol"`
    Expiry       string              `json:"expiry"`
    Spot         *float64            `json:"spot"`
    IV           *float64            `json:"iv"`
    IVPercentile *float64            `json:"iv_percentile"`
    ATMIV        *float64            `json:"atm_iv"`
    Records      [][]any             `json:"records"`
    Entries      []optionchain.Entry `json:"entries"`
    FetchedAt    time.Time           `json:"fetched_at"`
}

func main() {
    var (
        cfgPath    string
        symbol     string
        expiry     string
        outPath    string
        username   string
        password   string
        token      string
        timeoutSec int
    )
    flag.StringVar(&cfgPath, "config", "", "path to config.json (optional)")
    flag.StringVar(&symbol, "symbol", "NIFTY", "underlying symbol")
    flag.StringVar(&expiry, "expiry", "", "expiry DD-MM-YYYY (default: next monthly expiry)")
    flag.StringVar(&outPath, "out", "", "output JSON file path (default: <symbol>_<expiry>.json)")
    flag.StringVar(&username, "user", os.Getenv("TRUEDATA_USERNAME"), "provider username")
    flag.StringVar(&password, "password", os.Getenv("TRUEDATA_PASSWORD"), "provider password")
    flag.StringVar(&token, "token", os.Getenv("TRUEDATA_TOKEN"), "existing access token (skips login)")
    flag.IntVar(&timeoutSec, "timeout", 30, "overall timeout seconds")
    flag.Parse()

    log := logger.GetLogger()

    cfg, err := config.Load(cfgPath)
    if err != nil {
        log.WithError(err).Fatal("config")
    }
    clock := clockwork.NewRealClock()
    now := clock.Now()

    symbol = strings.ToUpper(strings.TrimSpace(symbol))
    if expiry == "" {
        expiry = optionchain.NextMonthlyExpiry(now)
    }
    exp, err := optionchain.ParseExpiry(expiry)
    if err != nil {
        log.WithError(err).Fatal("expiry")
    }
    if outPath == "" {
        outPath = symbol + "_" + expiry + ".json"
    }

    client, err := truedata.NewClient(
        truedata.WithName(cfg.Provider.Name),
        truedata.WithAuthURL(cfg.Provider.AuthURL),
        truedata.WithBaseURL(cfg.Provider.AnalyticsURL),
        truedata.WithHTTPClient(httpx.New(time.Duration(cfg.Provider.TimeoutSec)*time.Second)),
    )
    if err != nil {
        log.WithError(err).Fatal("provider client")
    }

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
    defer cancel()

    if token == "" {
        sess, err := auth.New(client, time.Duration(cfg.Provider.DefaultTokenTTLSec)*time.Second, clock).
            Authenticate(ctx, username, password)
        if err != nil {
            log.WithError(err).Fatal("login")
        }
        token = sess.AccessToken
    }

    chain, err := client.OptionChain(ctx, token, symbol, expiry)
    if err != nil {
        log.WithError(err).WithField("status", provider.StatusCode(err)).Fatal("option chain")
    }
    entries := optionchain.Parse(chain.Records, symbol, expiry)
    out := dump{
        Symbol:       symbol,
        Expiry:       expiry,
        IV:           chain.IV,
        IVPercentile: chain.IVPercentile,
        Records:      chain.Records,
        Entries:      entries,
        FetchedAt:    now.UTC(),
    }

    spot, err := client.Spot(ctx, token, symbol, market.NewUniverse(cfg.Market.Symbols, cfg.Market.Indices).Series(symbol))
    if err != nil {
        log.WithError(err).Warn("spot unavailable, skipping ATM implied volatility")
    } else {
        out.Spot = &spot.LTP
        if iv, ok := optionchain.ATMImpliedVol(entries, spot.LTP, optionchain.YearsToExpiry(exp, now), cfg.Market.RiskFreeRate); ok {
            out.ATMIV = &iv
        }
    }

    f, err := os.Create(outPath)
    if err != nil {
        log.WithError(err).Fatal("create out")
    }
    defer f.Close()
    bw := bufio.NewWriterSize(f, 1<<16)
    enc := json.NewEncoder(bw)
    enc.SetIndent("", "  ")
    if err := enc.Encode(out); err != nil {
        log.WithError(err).Fatal("encode")
    }
    if err := bw.Flush(); err != nil {
        log.WithError(err).Fatal("flush")
    }
    log.WithFields(logrus.Fields{
        "records": len(chain.Records),
        "strikes": len(entries),
        "out":     outPath,
    }).Info("done")
}
