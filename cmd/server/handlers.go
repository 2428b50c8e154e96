package main

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/balisaikiran/pothos-backend/internal/auth"
    "github.com/balisaikiran/pothos-backend/internal/market"
    "github.com/balisaikiran/pothos-backend/internal/optionchain"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

const (
    reasonBadRequest   = "bad_request"
    reasonMissingToken = "missing_token"
    reasonTokenInvalid = "token_mismatch"
    reasonStoreFailure = "session_store_unavailable"
    reasonCanceled     = "request_canceled"
)

type errorResponse struct {
    Success bool   `json:"success"`
    Reason  string `json:"reason"`
    Message string `json:"message"`
}

type loginRequest struct {
    Username string `json:"username"`
    Password string `json:"password"`
}

type loginResponse struct {
    Success     bool   `json:"success"`
    Message     string `json:"message"`
    AccessToken string `json:"access_token"`
    ExpiresIn   int    `json:"expires_in"`
    Username    string `json:"username"`
}

type dashboardResponse struct {
    Success   bool                 `json:"success"`
    Data      []market.QuoteResult `json:"data"`
    Timestamp time.Time            `json:"timestamp"`
}

type optionChainResponse struct {
    Success bool                `json:"success"`
    Symbol  string              `json:"symbol"`
    Expiry  string              `json:"expiry"`
    Data    []optionchain.Entry `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json; charset=utf-8")
    w.WriteHeader(status)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
    writeJSON(w, status, errorResponse{Success: false, Reason: reason, Message: message})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
    var body loginRequest
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        writeError(w, http.StatusBadRequest, reasonBadRequest, "invalid JSON body")
        return
    }

    ctx, cancel := a.withTimeout(r.Context())
    defer cancel()

    sess, err := a.auth.Authenticate(ctx, body.Username, body.Password)
    if err != nil {
        var aerr *auth.Error
        if !errors.As(err, &aerr) {
            aerr = &auth.Error{Reason: auth.ReasonUpstreamUnavailable, Message: err.Error()}
        }
        status := http.StatusBadGateway
        if aerr.Reason == auth.ReasonInvalidCredentials {
            status = http.StatusUnauthorized
        }
        writeError(w, status, aerr.Reason, aerr.Message)
        return
    }

    if err := a.sessions.Put(ctx, sess); err != nil {
        a.log.WithError(err).WithField("user", sess.UserID).Warn("storing session failed")
    }
    writeJSON(w, http.StatusOK, loginResponse{
        Success:     true,
        Message:     "Login successful",
        AccessToken: sess.AccessToken,
        ExpiresIn:   int(sess.ExpiresAt.Sub(sess.IssuedAt) / time.Second),
        Username:    sess.UserID,
    })
}

func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
    user := strings.TrimSpace(r.URL.Query().Get("user"))
    if user == "" {
        writeError(w, http.StatusBadRequest, reasonBadRequest, "missing user query param")
        return
    }
    err := session.Revoke(r.Context(), a.sessions, user, requestToken(r))
    switch {
    case err == nil:
        writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
    case errors.Is(err, session.ErrNoToken):
        writeError(w, http.StatusUnauthorized, reasonMissingToken, "access token required")
    case errors.Is(err, session.ErrTokenMismatch):
        writeError(w, http.StatusUnauthorized, reasonTokenInvalid, "token does not match the active session")
    default:
        a.log.WithError(err).WithField("user", user).Error("invalidating session failed")
        writeError(w, http.StatusServiceUnavailable, reasonStoreFailure, "could not remove session")
    }
}

// requestToken reads the caller's token from ?token= or an Authorization
// bearer header.
func requestToken(r *http.Request) string {
    if token := r.URL.Query().Get("token"); token != "" {
        return token
    }
    return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// resolveSession finds the request's session from the caller's token and
// the optional ?user=. It writes the error response and returns false on
// failure.
func (a *app) resolveSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
    user := strings.TrimSpace(r.URL.Query().Get("user"))
    sess, err := session.Resolve(r.Context(), a.sessions, user, requestToken(r), a.clock.Now())
    switch {
    case err == nil:
        return sess, true
    case errors.Is(err, session.ErrNoToken):
        writeError(w, http.StatusUnauthorized, reasonMissingToken, "access token required")
    default:
        a.log.WithError(err).WithField("user", user).Error("loading session failed")
        writeError(w, http.StatusServiceUnavailable, reasonStoreFailure, "session store unavailable")
    }
    return session.Session{}, false
}

// fetchFailed maps a fetcher error to a response. A rejected token also
// drops the stored session when it is that token.
func (a *app) fetchFailed(w http.ResponseWriter, r *http.Request, sess session.Session, err error) {
    var fe *market.FetchError
    switch {
    case errors.Is(err, market.ErrInvalidExpiry):
        writeError(w, http.StatusBadRequest, reasonBadRequest, err.Error())
    case errors.As(err, &fe):
        status := http.StatusBadGateway
        message := "market data provider error"
        switch fe.Code {
        case market.CodeTokenExpired:
            status, message = http.StatusUnauthorized, "session expired, please log in again"
            if sess.UserID != "" {
                err := session.Revoke(r.Context(), a.sessions, sess.UserID, sess.AccessToken)
                if err != nil && !errors.Is(err, session.ErrTokenMismatch) {
                    a.log.WithError(err).WithField("user", sess.UserID).Warn("invalidating expired session failed")
                }
            }
        case market.CodeSymbolUnavailable:
            status, message = http.StatusNotFound, "no data for symbol"
        case market.CodeRateLimited:
            message = "market data provider is rate limiting requests"
        case market.CodeUpstreamTimeout:
            message = "market data provider did not respond"
        }
        writeError(w, status, fe.Code, message)
    default:
        // request context ended before the batch completed
        writeError(w, http.StatusGatewayTimeout, reasonCanceled, err.Error())
    }
}

func (a *app) handleDashboard(w http.ResponseWriter, r *http.Request) {
    sess, ok := a.resolveSession(w, r)
    if !ok {
        return
    }
    ctx, cancel := a.withTimeout(r.Context())
    defer cancel()

    rows, err := a.fetcher.FetchQuotes(ctx, sess, a.universe)
    if err != nil {
        a.fetchFailed(w, r, sess, err)
        return
    }
    writeJSON(w, http.StatusOK, dashboardResponse{Success: true, Data: rows, Timestamp: a.clock.Now().UTC()})
}

func (a *app) handleOptionChain(w http.ResponseWriter, r *http.Request) {
    symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
    if symbol == "" {
        writeError(w, http.StatusBadRequest, reasonBadRequest, "missing symbol")
        return
    }
    sess, ok := a.resolveSession(w, r)
    if !ok {
        return
    }
    ctx, cancel := a.withTimeout(r.Context())
    defer cancel()

    expiry := strings.TrimSpace(r.URL.Query().Get("expiry"))
    entries, err := a.fetcher.FetchOptionChain(ctx, sess, symbol, expiry)
    if err != nil {
        a.fetchFailed(w, r, sess, err)
        return
    }
    if expiry == "" {
        expiry = entries[0].Expiry
    }
    writeJSON(w, http.StatusOK, optionChainResponse{Success: true, Symbol: symbol, Expiry: expiry, Data: entries})
}
