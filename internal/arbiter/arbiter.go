package arbiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/devicelab/sessiond/internal/crashlog"
	"github.com/devicelab/sessiond/pkg/outcome"
)

// Correlator is the crash-lookup service consulted after a failure outcome
// is latched. A nil report with a nil error means no crash matched.
type Correlator interface {
	Correlate(ctx context.Context, process string, win crashlog.Window) (*outcome.CrashReport, error)
}

// Config parameterizes an Arbiter.
type Config struct {
	// Correlator may be nil, in which case failure outcomes are published
	// without crash diagnostics.
	Correlator Correlator
	// HostProcess is the test host process name used as the correlation key.
	HostProcess string
	// CrashWindow is how far back from the failure timestamp a crash report
	// may date and still be considered correlated.
	CrashWindow time.Duration
	// Budget bounds the correlator call; on expiry the outcome is published
	// without diagnostics.
	Budget time.Duration
	// OnAccept, if set, runs synchronously right after a proposal is
	// latched, before ReportTermination returns. The session uses it to
	// disarm the timeout watchdog.
	OnAccept func()
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Arbiter is the single point where all termination sources funnel their
// proposals. The first proposal wins and becomes the session's permanent
// result; every later one is rejected. After acceptance the arbiter makes
// one bounded, best-effort crash lookup to enrich failure outcomes.
type Arbiter struct {
	cfg Config

	mu     sync.Mutex
	result *outcome.Outcome

	finalized chan struct{}
	diagnosed chan struct{}
}

func New(cfg Config) *Arbiter {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Arbiter{
		cfg:       cfg,
		finalized: make(chan struct{}),
		diagnosed: make(chan struct{}),
	}
}

// ReportTermination proposes o as the session's terminal outcome. Exactly
// one concurrent caller is accepted; all others get false and must clean up
// their own outstanding work silently. Severity never matters: the latch is
// strictly first-wins.
func (a *Arbiter) ReportTermination(o *outcome.Outcome) bool {
	a.mu.Lock()
	if a.result != nil {
		a.mu.Unlock()
		return false
	}
	a.result = o
	close(a.finalized)
	a.mu.Unlock()

	if a.cfg.OnAccept != nil {
		a.cfg.OnAccept()
	}
	a.cfg.Logger.Info("session outcome latched", "kind", string(o.Kind()))

	// Enrichment happens outside the critical section so eager readers of
	// the bare outcome are never blocked on the correlator.
	go a.enrich(o)
	return true
}

// FinalResult returns the latched outcome once one exists. It never blocks;
// the returned outcome may not carry crash diagnostics yet.
func (a *Arbiter) FinalResult() (*outcome.Outcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.result != nil
}

// Finalized is closed the moment a proposal is accepted.
func (a *Arbiter) Finalized() <-chan struct{} { return a.finalized }

// DiagnosticsReady is closed once crash enrichment has completed, timed out
// or been skipped. It is always closed eventually after Finalized.
func (a *Arbiter) DiagnosticsReady() <-chan struct{} { return a.diagnosed }

func (a *Arbiter) enrich(o *outcome.Outcome) {
	defer close(a.diagnosed)

	switch o.Kind() {
	case outcome.KindBundleConnectionFailed, outcome.KindDaemonConnectionFailed, outcome.KindInternalError:
	default:
		return
	}
	if a.cfg.Correlator == nil {
		return
	}

	now := a.cfg.Clock.Now()
	win := crashlog.Window{Start: now.Add(-a.cfg.CrashWindow), End: now}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Budget)
	defer cancel()

	report, err := a.cfg.Correlator.Correlate(ctx, a.cfg.HostProcess, win)
	if err != nil {
		a.cfg.Logger.Warn("crash correlation failed",
			"process", a.cfg.HostProcess, "error", err)
		return
	}
	if report == nil {
		a.cfg.Logger.Debug("no crash report correlated", "process", a.cfg.HostProcess)
		return
	}
	if o.AttachCrash(report) {
		a.cfg.Logger.Info("crash report attached",
			"process", report.Process, "path", report.Path)
	}
}
