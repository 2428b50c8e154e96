package main

import (
    "bufio"
    "compress/gzip"
    "context"
    "errors"
    "io"
    "net"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/balisaikiran/pothos-backend/internal/logger"
    "github.com/balisaikiran/pothos-backend/internal/metrics"
)

type ctxKey int

const requestIDKey ctxKey = iota

// boundary is the outermost handler. Panics become a JSON 500. When the
// application failed to initialize, every route but /health gets a 503.
func boundary(next http.Handler, initErr error) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                if rec == http.ErrAbortHandler {
                    panic(rec)
                }
                logger.Component("server").WithField("request_id", requestID(r.Context())).
                    WithField("panic", rec).Error("handler panic")
                writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
            }
        }()
        if initErr != nil && r.URL.Path != "/health" {
            logger.Component("server").WithField("request_id", requestID(r.Context())).
                WithError(initErr).Debug("rejecting request, initialization failed")
            writeError(w, http.StatusServiceUnavailable, "initialization_failed", "service is not available")
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withCORS answers preflight requests and sets CORS headers for the
// configured origins ("*" allows any).
func withCORS(origins []string, next http.Handler) http.Handler {
    allowAll := len(origins) == 0
    allowed := make(map[string]bool, len(origins))
    for _, o := range origins {
        if o == "*" {
            allowAll = true
        }
        allowed[o] = true
    }
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        origin := r.Header.Get("Origin")
        switch {
        case allowAll:
            w.Header().Set("Access-Control-Allow-Origin", "*")
        case allowed[origin]:
            w.Header().Set("Access-Control-Allow-Origin", origin)
            w.Header().Add("Vary", "Origin")
        }
        w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withRequestID tags the request with an id, taken from X-Request-ID when
// the caller sent one.
func withRequestID(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        id := r.Header.Get("X-Request-ID")
        if id == "" {
            id = uuid.NewString()
        }
        w.Header().Set("X-Request-ID", id)
        next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
    })
}

func requestID(ctx context.Context) string {
    id, _ := ctx.Value(requestIDKey).(string)
    return id
}

// withMetrics records handler latency by route pattern and status.
func withMetrics(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        route := r.Pattern
        if route == "" {
            route = "unmatched"
        }
        metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
    })
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (s *statusRecorder) WriteHeader(code int) {
    s.status = code
    s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := s.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("hijack not supported")
    }
    s.status = http.StatusSwitchingProtocols
    return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        // Prefer best speed to reduce CPU usage since payloads are JSON
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
            strings.EqualFold(r.Header.Get("Upgrade"), "websocket") ||
            r.URL.Path == "/metrics" {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
        next.ServeHTTP(gw, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 1 << 20 // 1MB
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPost && r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}
