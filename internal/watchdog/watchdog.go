package watchdog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/devicelab/sessiond/pkg/outcome"
)

// State of the watchdog. Fired and Disarmed are terminal; the watchdog
// never re-arms within a session.
type State int

const (
	Idle State = iota
	Armed
	Fired
	Disarmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Disarmed:
		return "disarmed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Watchdog arms a single deadline timer per session and proposes a timeout
// outcome if the deadline elapses before any other terminal signal.
type Watchdog struct {
	clk clock.Clock
	log *slog.Logger

	mu    sync.Mutex
	state State
	timer clock.Timer
	stop  chan struct{}
}

func New(clk clock.Clock, log *slog.Logger) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{clk: clk, log: log, stop: make(chan struct{})}
}

// Arm starts the deadline timer. The session's propose func receives
// TimedOutAfter(interval) exactly once if the deadline elapses while still
// armed. Arming twice is an error.
func (w *Watchdog) Arm(interval time.Duration, propose func(*outcome.Outcome) bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Idle {
		return fmt.Errorf("failed to arm watchdog: state is %s, not idle", w.state)
	}
	w.state = Armed
	w.timer = w.clk.NewTimer(interval)

	go func() {
		select {
		case <-w.timer.C():
		case <-w.stop:
			return
		}
		// The timer may have been in flight while Disarm ran. Re-check
		// under the lock so a cancelled timer can never fire late.
		w.mu.Lock()
		if w.state != Armed {
			w.mu.Unlock()
			return
		}
		w.state = Fired
		w.mu.Unlock()

		accepted := propose(outcome.TimedOutAfter(interval))
		w.log.Debug("watchdog fired", "interval", interval, "accepted", accepted)
	}()
	return nil
}

// Disarm cancels the pending timer so it can never fire. It is a no-op
// after Fired and idempotent after Disarmed; disarming an idle watchdog
// prevents it from ever being armed.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case Armed:
		w.timer.Stop()
		close(w.stop)
		w.state = Disarmed
	case Idle:
		close(w.stop)
		w.state = Disarmed
	}
}

// State returns the current watchdog state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
