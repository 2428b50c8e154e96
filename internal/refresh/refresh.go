package refresh

import (
    "context"
    "errors"
    "sync"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/sirupsen/logrus"

    "github.com/balisaikiran/pothos-backend/internal/logger"
    "github.com/balisaikiran/pothos-backend/internal/market"
    "github.com/balisaikiran/pothos-backend/internal/metrics"
    "github.com/balisaikiran/pothos-backend/internal/session"
)

// DefaultInterval is the polling cadence when Start is given none.
const DefaultInterval = 30 * time.Minute

type State int

const (
    Idle State = iota
    Polling
    Paused
    Stopped
)

func (s State) String() string {
    switch s {
    case Idle:
        return "idle"
    case Polling:
        return "polling"
    case Paused:
        return "paused"
    case Stopped:
        return "stopped"
    }
    return "unknown"
}

var (
    ErrInvalidState   = errors.New("operation not allowed in current state")
    ErrReauthRequired = errors.New("re-authentication required")
)

// Snapshot is the result of one successful cycle, or a notice that the
// session must be renewed.
type Snapshot struct {
    Rows           []market.QuoteResult `json:"data"`
    Timestamp      time.Time            `json:"timestamp"`
    State          string               `json:"state"`
    ReauthRequired bool                 `json:"reauth_required"`
}

// Fetcher is the quote source driven by the orchestrator.
type Fetcher interface {
    FetchQuotes(ctx context.Context, sess session.Session, u market.Universe) ([]market.QuoteResult, error)
}

// Orchestrator polls a Fetcher for one session on a fixed interval.
//
//  Idle -> Polling <-> Paused, any -> Stopped
//
// A token rejection pauses polling until UpdateSession supplies a new
// session. Results of cycles canceled by Pause, Stop or UpdateSession are
// dropped.
type Orchestrator struct {
    fetcher  Fetcher
    universe market.Universe
    clock    clockwork.Clock
    log      *logrus.Entry

    mu       sync.Mutex
    state    State
    sess     session.Session
    interval time.Duration
    reauth   bool
    latest   *Snapshot
    gen      uint64

    ticker      clockwork.Ticker
    cycleCancel context.CancelFunc
    loopCancel  context.CancelFunc
    loopDone    chan struct{}
    kick        chan struct{}
    updates     chan Snapshot
}

func New(f Fetcher, u market.Universe, clock clockwork.Clock) *Orchestrator {
    if clock == nil {
        clock = clockwork.NewRealClock()
    }
    return &Orchestrator{
        fetcher:  f,
        universe: u,
        clock:    clock,
        log:      logger.Component("refresh"),
        kick:     make(chan struct{}, 1),
        updates:  make(chan Snapshot, 1),
    }
}

// Start begins polling: one cycle now, then one per interval.
func (o *Orchestrator) Start(sess session.Session, interval time.Duration) error {
    if interval <= 0 {
        interval = DefaultInterval
    }
    o.mu.Lock()
    defer o.mu.Unlock()
    if o.state != Idle {
        return ErrInvalidState
    }
    o.state = Polling
    o.sess = sess
    o.interval = interval
    o.ticker = o.clock.NewTicker(interval)

    ctx, cancel := context.WithCancel(context.Background())
    o.loopCancel = cancel
    o.loopDone = make(chan struct{})
    o.trigger()
    go o.run(ctx)

    o.log.WithField("user", sess.UserID).WithField("interval", interval.String()).Info("polling started")
    return nil
}

// Pause stops scheduled cycles and cancels the one in flight. The last
// snapshot is kept.
func (o *Orchestrator) Pause() error {
    o.mu.Lock()
    defer o.mu.Unlock()
    if o.state != Polling {
        return ErrInvalidState
    }
    o.state = Paused
    o.gen++
    o.cancelCycle()
    return nil
}

// Resume runs one cycle immediately and restarts the schedule.
func (o *Orchestrator) Resume() error {
    o.mu.Lock()
    defer o.mu.Unlock()
    if o.reauth {
        return ErrReauthRequired
    }
    if o.state != Paused {
        return ErrInvalidState
    }
    o.state = Polling
    o.restart()
    return nil
}

// UpdateSession swaps in a renewed session, clears a pending
// re-authentication and resumes polling with an immediate cycle.
func (o *Orchestrator) UpdateSession(sess session.Session) error {
    o.mu.Lock()
    defer o.mu.Unlock()
    switch o.state {
    case Stopped:
        return ErrInvalidState
    case Idle:
        o.sess = sess
        return nil
    }
    o.sess = sess
    o.reauth = false
    o.gen++
    o.cancelCycle()
    o.state = Polling
    o.restart()
    o.log.WithField("user", sess.UserID).Info("session updated")
    return nil
}

// RefreshNow runs one cycle in the caller's goroutine without touching
// the schedule. Allowed while polling or paused.
func (o *Orchestrator) RefreshNow(ctx context.Context) (Snapshot, error) {
    o.mu.Lock()
    if o.state != Polling && o.state != Paused {
        o.mu.Unlock()
        return Snapshot{}, ErrInvalidState
    }
    if o.reauth {
        o.mu.Unlock()
        return Snapshot{}, ErrReauthRequired
    }
    gen, sess := o.gen, o.sess
    o.mu.Unlock()

    rows, err := o.fetcher.FetchQuotes(ctx, sess, o.universe)
    return o.finish(gen, rows, err)
}

// Stop ends polling for good. An in-flight cycle is canceled and its
// result dropped; Updates is closed.
func (o *Orchestrator) Stop() {
    o.mu.Lock()
    if o.state == Stopped {
        o.mu.Unlock()
        return
    }
    o.state = Stopped
    o.gen++
    o.cancelCycle()
    if o.loopCancel != nil {
        o.loopCancel()
    }
    if o.ticker != nil {
        o.ticker.Stop()
    }
    close(o.updates)
    done := o.loopDone
    o.mu.Unlock()

    if done != nil {
        <-done
    }
    o.log.Info("polling stopped")
}

// Updates delivers snapshots. Only the newest undelivered snapshot is
// kept; the channel is closed by Stop.
func (o *Orchestrator) Updates() <-chan Snapshot { return o.updates }

// Latest returns the last successful snapshot.
func (o *Orchestrator) Latest() (Snapshot, bool) {
    o.mu.Lock()
    defer o.mu.Unlock()
    if o.latest == nil {
        return Snapshot{}, false
    }
    return *o.latest, true
}

func (o *Orchestrator) State() State {
    o.mu.Lock()
    defer o.mu.Unlock()
    return o.state
}

func (o *Orchestrator) ReauthRequired() bool {
    o.mu.Lock()
    defer o.mu.Unlock()
    return o.reauth
}

func (o *Orchestrator) run(ctx context.Context) {
    defer close(o.loopDone)
    for {
        select {
        case <-ctx.Done():
            return
        case <-o.kick:
            o.cycle(ctx)
        case <-o.ticker.Chan():
            o.cycle(ctx)
        }
    }
}

func (o *Orchestrator) cycle(parent context.Context) {
    o.mu.Lock()
    if o.state != Polling {
        o.mu.Unlock()
        return
    }
    ctx, cancel := context.WithCancel(parent)
    o.cycleCancel = cancel
    gen, sess := o.gen, o.sess
    o.mu.Unlock()

    rows, err := o.fetcher.FetchQuotes(ctx, sess, o.universe)
    cancel()
    _, _ = o.finish(gen, rows, err)
}

func (o *Orchestrator) finish(gen uint64, rows []market.QuoteResult, err error) (Snapshot, error) {
    o.mu.Lock()
    defer o.mu.Unlock()

    if gen != o.gen || o.state == Stopped {
        metrics.RefreshCycles.WithLabelValues("discarded").Inc()
        if err == nil {
            err = context.Canceled
        }
        return Snapshot{}, err
    }

    switch {
    case errors.Is(err, market.ErrTokenExpired):
        metrics.RefreshCycles.WithLabelValues(market.CodeTokenExpired).Inc()
        o.log.WithField("user", o.sess.UserID).Warn("session rejected, waiting for re-authentication")
        o.state = Paused
        o.reauth = true
        o.gen++
        o.cancelCycle()
        snap := Snapshot{Timestamp: o.clock.Now(), State: o.state.String(), ReauthRequired: true}
        if o.latest != nil {
            snap.Rows = o.latest.Rows
        }
        o.publish(snap)
        return snap, ErrReauthRequired
    case err != nil:
        metrics.RefreshCycles.WithLabelValues("error").Inc()
        o.log.WithError(err).Warn("refresh cycle failed")
        return Snapshot{}, err
    }

    metrics.RefreshCycles.WithLabelValues("ok").Inc()
    snap := Snapshot{Rows: rows, Timestamp: o.clock.Now(), State: o.state.String()}
    o.latest = &snap
    o.publish(snap)
    return snap, nil
}

// publish replaces any undelivered snapshot. Callers hold mu.
func (o *Orchestrator) publish(s Snapshot) {
    select {
    case <-o.updates:
    default:
    }
    select {
    case o.updates <- s:
    default:
    }
}

// restart resets the schedule, drops a pending tick and requests an
// immediate cycle. Callers hold mu.
func (o *Orchestrator) restart() {
    o.ticker.Reset(o.interval)
    select {
    case <-o.ticker.Chan():
    default:
    }
    o.trigger()
}

// trigger requests an immediate cycle. Callers hold mu.
func (o *Orchestrator) trigger() {
    select {
    case o.kick <- struct{}{}:
    default:
    }
}

// cancelCycle aborts the scheduled cycle in flight. Callers hold mu.
func (o *Orchestrator) cancelCycle() {
    if o.cycleCancel != nil {
        o.cycleCancel()
        o.cycleCancel = nil
    }
}
