package main

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/gorilla/websocket"

    "github.com/balisaikiran/pothos-backend/internal/refresh"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

const (
    pingEvery = 45 * time.Second
    readWait  = 90 * time.Second
)

var errUnknownAction = errors.New("unknown action")

var wsUpgrader = websocket.Upgrader{
    CheckOrigin: func(*http.Request) bool { return true },
}

// controlMsg is sent by the browser to steer its stream.
type controlMsg struct {
    Action    string `json:"action"`
    Token     string `json:"token,omitempty"`
    ExpiresIn int    `json:"expires_in,omitempty"`
}

type statusMsg struct {
    Type           string `json:"type"`
    State          string `json:"state"`
    ReauthRequired bool   `json:"reauth_required"`
    Error          string `json:"error,omitempty"`
}

type snapshotMsg struct {
    Type string `json:"type"`
    refresh.Snapshot
}

// wsConn serializes writes from the snapshot pump and the control reader.
type wsConn struct {
    mu sync.Mutex
    c  *websocket.Conn
}

func (w *wsConn) send(v any) error {
    w.mu.Lock()
    defer w.mu.Unlock()
    _ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
    return w.c.WriteJSON(v)
}

func (w *wsConn) ping() error {
    w.mu.Lock()
    defer w.mu.Unlock()
    return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// handleStream upgrades to a websocket and drives a refresh orchestrator
// for the caller's session until the socket closes or the client stops it.
func (a *app) handleStream(w http.ResponseWriter, r *http.Request) {
    sess, ok := a.resolveSession(w, r)
    if !ok {
        return
    }
    interval := a.streamInterval
    if v := r.URL.Query().Get("interval"); v != "" {
        d, err := time.ParseDuration(v)
        if err != nil || d <= 0 {
            writeError(w, http.StatusBadRequest, reasonBadRequest, "invalid interval")
            return
        }
        interval = max(d, a.minStreamInterval)
    }

    c, err := wsUpgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    conn := &wsConn{c: c}
    defer c.Close()

    log := a.log.WithField("user", sess.UserID).WithField("request_id", requestID(r.Context()))
    orch := refresh.New(a.fetcher, a.universe, a.clock)
    if err := orch.Start(sess, interval); err != nil {
        log.WithError(err).Error("starting stream")
        return
    }
    defer orch.Stop()
    log.Info("stream opened")

    done := make(chan struct{})
    defer close(done)
    go func() {
        ping := time.NewTicker(pingEvery)
        defer ping.Stop()
        updates := orch.Updates()
        for {
            select {
            case snap, ok := <-updates:
                if !ok {
                    return
                }
                if err := conn.send(snapshotMsg{Type: "snapshot", Snapshot: snap}); err != nil {
                    return
                }
            case <-ping.C:
                if err := conn.ping(); err != nil {
                    return
                }
            case <-done:
                return
            }
        }
    }()

    _ = c.SetReadDeadline(time.Now().Add(readWait))
    c.SetPongHandler(func(string) error {
        return c.SetReadDeadline(time.Now().Add(readWait))
    })
    c.SetReadLimit(4 << 10)

    for {
        mt, data, err := c.ReadMessage()
        if err != nil {
            log.WithError(err).Debug("stream closed")
            return
        }
        _ = c.SetReadDeadline(time.Now().Add(readWait))
        if mt != websocket.TextMessage {
            continue
        }
        var ctrl controlMsg
        if err := json.Unmarshal(data, &ctrl); err != nil {
            _ = conn.send(statusMsg{Type: "status", State: orch.State().String(), Error: "invalid control message"})
            continue
        }

        var opErr error
        switch strings.ToLower(ctrl.Action) {
        case "pause":
            opErr = orch.Pause()
        case "resume":
            opErr = orch.Resume()
        case "refresh":
            _, opErr = orch.RefreshNow(r.Context())
        case "session":
            opErr = a.renewStreamSession(orch, sess.UserID, ctrl)
        case "stop":
            orch.Stop()
            _ = conn.send(statusMsg{Type: "status", State: orch.State().String()})
            _ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopped"), time.Now().Add(time.Second))
            return
        default:
            opErr = errUnknownAction
        }

        st := statusMsg{Type: "status", State: orch.State().String(), ReauthRequired: orch.ReauthRequired()}
        if opErr != nil {
            st.Error = opErr.Error()
        }
        _ = conn.send(st)
    }
}

// renewStreamSession hands a client-supplied token to the orchestrator. It
// is not written to the session store; only logins do that.
func (a *app) renewStreamSession(orch *refresh.Orchestrator, userID string, ctrl controlMsg) error {
    token := strings.TrimSpace(ctrl.Token)
    if token == "" {
        return session.ErrNoToken
    }
    now := a.clock.Now()
    sess := session.Session{UserID: userID, AccessToken: token, IssuedAt: now}
    if ctrl.ExpiresIn > 0 {
        sess.ExpiresAt = now.Add(time.Duration(ctrl.ExpiresIn) * time.Second)
    }
    return orch.UpdateSession(sess)
}
