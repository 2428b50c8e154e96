package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "strings"

    "github.com/joho/godotenv"
)

type Server struct {
    Port              string   `json:"port"`
    RequestTimeoutSec int      `json:"request_timeout_sec"`
    CORSOrigins       []string `json:"cors_origins"`
}

type Provider struct {
    Name                  string `json:"name"`
    AuthURL               string `json:"auth_url"`
    AnalyticsURL          string `json:"analytics_url"`
    TimeoutSec            int    `json:"timeout_sec"`
    DefaultTokenTTLSec    int    `json:"default_token_ttl_sec"`
    MaxRequestsPerMinute  int    `json:"max_requests_per_minute"`
    MinRequestIntervalSec int    `json:"min_request_interval_sec"`
    Burst                 int    `json:"burst"`
}

type Market struct {
    Symbols           []string `json:"symbols"`
    Indices           []string `json:"indices"`
    MaxConcurrency    int      `json:"max_concurrency"`
    SymbolTimeoutSec  int      `json:"symbol_timeout_sec"`
    RetryTimeoutSec   int      `json:"retry_timeout_sec"`
    MaxRetries        int      `json:"max_retries"`
    BackoffMillis     int      `json:"backoff_ms"`
    IncludeIV         bool     `json:"include_iv"`
    ExpiryProbeLimit  int      `json:"expiry_probe_limit"`
    ExpiryCacheTTLSec int      `json:"expiry_cache_ttl_sec"`
    RiskFreeRate      float64  `json:"risk_free_rate"`
}

type Refresh struct {
    IntervalSec    int `json:"interval_sec"`
    MinIntervalSec int `json:"min_interval_sec"`
}

type SessionStore struct {
    // Backend is one of: none, memory, redis, postgres.
    Backend       string `json:"backend"`
    KeyPrefix     string `json:"key_prefix"`
    RedisAddr     string `json:"redis_addr"`
    RedisPassword string `json:"redis_password"`
    RedisDB       int    `json:"redis_db"`
    PostgresDSN   string `json:"postgres_dsn"`
}

type Log struct {
    Level string `json:"level"`
}

type Config struct {
    Server   Server       `json:"server"`
    Provider Provider     `json:"provider"`
    Market   Market       `json:"market"`
    Refresh  Refresh      `json:"refresh"`
    Sessions SessionStore `json:"sessions"`
    Log      Log          `json:"log"`
}

// DefaultSymbols is the dashboard universe: two indices followed by the
// large-cap F&O equities.
var DefaultSymbols = []string{
    "NIFTY", "BANKNIFTY", "RELIANCE", "TCS", "HDFCBANK",
    "INFY", "ICICIBANK", "HINDUNILVR", "ITC", "SBIN",
    "BHARTIARTL", "KOTAKBANK", "LT", "ASIANPAINT", "HCLTECH",
    "AXISBANK", "MARUTI", "SUNPHARMA", "TITAN", "ULTRACEMCO",
}

func Default() Config {
    return Config{
        Server: Server{Port: "8080", RequestTimeoutSec: 30, CORSOrigins: []string{"*"}},
        Provider: Provider{
            Name:               "TrueData",
            AuthURL:            "https://auth.truedata.in/token",
            AnalyticsURL:       "https://analytics.truedata.in/api",
            TimeoutSec:         30,
            DefaultTokenTTLSec: 3600,
            MaxRequestsPerMinute: 300,
            Burst:              10,
        },
        Market: Market{
            Symbols:           append([]string(nil), DefaultSymbols...),
            Indices:           []string{"NIFTY", "BANKNIFTY"},
            MaxConcurrency:    5,
            SymbolTimeoutSec:  10,
            RetryTimeoutSec:   5,
            MaxRetries:        2,
            BackoffMillis:     250,
            IncludeIV:         true,
            ExpiryProbeLimit:  3,
            ExpiryCacheTTLSec: 6 * 3600,
            RiskFreeRate:      0.065,
        },
        Refresh:  Refresh{IntervalSec: 30 * 60, MinIntervalSec: 5},
        Sessions: SessionStore{Backend: "none", KeyPrefix: "session", RedisAddr: "localhost:6379"},
        Log:      Log{Level: "info"},
    }
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. A .env file in the working directory is loaded first;
// environment variables then override select fields.
func Load(path string) (Config, error) {
    if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
        return Default(), fmt.Errorf("load .env: %w", err)
    }
    cfg := Default()
    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err == nil {
            if err := json.Unmarshal(b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse config: %w", err)
            }
        }
    }
    applyEnv(&cfg)
    if err := cfg.Validate(); err != nil {
        return cfg, err
    }
    return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
    switch c.Sessions.Backend {
    case "none", "memory":
    case "redis":
        if c.Sessions.RedisAddr == "" {
            return fmt.Errorf("sessions.backend=redis requires redis_addr")
        }
    case "postgres":
        if c.Sessions.PostgresDSN == "" {
            return fmt.Errorf("sessions.backend=postgres requires postgres_dsn")
        }
    default:
        return fmt.Errorf("unknown sessions.backend %q", c.Sessions.Backend)
    }
    if len(c.Market.Symbols) == 0 {
        return fmt.Errorf("market.symbols cannot be empty")
    }
    if c.Refresh.IntervalSec <= 0 {
        return fmt.Errorf("refresh.interval_sec must be positive")
    }
    return nil
}

func applyEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Server.Port = v }
    if x, ok := envInt("REQUEST_TIMEOUT_SEC"); ok && x > 0 { cfg.Server.RequestTimeoutSec = x }
    if v := os.Getenv("CORS_ORIGINS"); v != "" { cfg.Server.CORSOrigins = splitCSV(v) }

    if v := os.Getenv("PROVIDER_AUTH_URL"); v != "" { cfg.Provider.AuthURL = v }
    if v := os.Getenv("PROVIDER_ANALYTICS_URL"); v != "" { cfg.Provider.AnalyticsURL = v }
    if x, ok := envInt("PROVIDER_TIMEOUT_SEC"); ok && x > 0 { cfg.Provider.TimeoutSec = x }
    if x, ok := envInt("TOKEN_TTL_SEC"); ok && x > 0 { cfg.Provider.DefaultTokenTTLSec = x }
    if x, ok := envInt("PROVIDER_MAX_RPM"); ok && x >= 0 { cfg.Provider.MaxRequestsPerMinute = x }
    if x, ok := envInt("PROVIDER_MIN_INTERVAL_SEC"); ok && x >= 0 { cfg.Provider.MinRequestIntervalSec = x }
    if x, ok := envInt("PROVIDER_BURST"); ok && x > 0 { cfg.Provider.Burst = x }

    if v := os.Getenv("MARKET_SYMBOLS"); v != "" { cfg.Market.Symbols = splitCSV(v) }
    if x, ok := envInt("MARKET_MAX_CONCURRENCY"); ok && x > 0 { cfg.Market.MaxConcurrency = x }
    if x, ok := envInt("MARKET_SYMBOL_TIMEOUT_SEC"); ok && x > 0 { cfg.Market.SymbolTimeoutSec = x }
    if x, ok := envInt("MARKET_MAX_RETRIES"); ok && x >= 0 { cfg.Market.MaxRetries = x }
    if b, ok := envBool("MARKET_INCLUDE_IV"); ok { cfg.Market.IncludeIV = b }

    if x, ok := envInt("REFRESH_INTERVAL_SEC"); ok && x > 0 { cfg.Refresh.IntervalSec = x }

    if v := os.Getenv("SESSION_BACKEND"); v != "" { cfg.Sessions.Backend = strings.ToLower(v) }
    if v := os.Getenv("REDIS_ADDR"); v != "" { cfg.Sessions.RedisAddr = v }
    if v := os.Getenv("REDIS_PASSWORD"); v != "" { cfg.Sessions.RedisPassword = v }
    if x, ok := envInt("REDIS_DB"); ok && x >= 0 { cfg.Sessions.RedisDB = x }
    if v := os.Getenv("DATABASE_URL"); v != "" { cfg.Sessions.PostgresDSN = v }

    if v := os.Getenv("LOG_LEVEL"); v != "" { cfg.Log.Level = v }
}

func envInt(key string) (int, bool) {
    v := os.Getenv(key)
    if v == "" { return 0, false }
    var x int
    if _, err := fmt.Sscanf(v, "%d", &x); err != nil { return 0, false }
    return x, true
}

func envBool(key string) (bool, bool) {
    switch strings.ToLower(os.Getenv(key)) {
    case "1", "true", "yes", "y": return true, true
    case "0", "false", "no", "n": return false, true
    }
    return false, false
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
