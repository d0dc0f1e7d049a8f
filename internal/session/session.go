package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab/sessiond/internal/arbiter"
	"github.com/devicelab/sessiond/internal/watchdog"
	"github.com/devicelab/sessiond/pkg/outcome"
)

// Source is a termination-signal producer: it runs on its own goroutine and
// may submit at most one outcome proposal through propose. A false return
// from propose means another source already ended the session; the source
// must clean up silently and not retry.
type Source interface {
	Name() string
	Run(ctx context.Context, propose func(*outcome.Outcome) bool) error
}

// Config parameterizes one test-execution session.
type Config struct {
	ID string
	// Timeout arms the watchdog; zero disables it.
	Timeout time.Duration
	// HostProcess is the test host process name used for crash correlation.
	HostProcess string
	CrashWindow time.Duration
	// CorrelatorBudget bounds the post-outcome crash lookup.
	CorrelatorBudget time.Duration

	Correlator arbiter.Correlator
	Gatherer   EventGatherer
	Sources    []Source

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session owns a single test-execution run: the outcome arbiter, the
// timeout watchdog and the connection monitors feeding it. It produces
// exactly one terminal outcome.
type Session struct {
	cfg  Config
	arb  *arbiter.Arbiter
	wd   *watchdog.Watchdog
	gath EventGatherer
	log  *slog.Logger
}

func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = NoopGatherer{}
	}
	log := cfg.Logger.With("session", cfg.ID)

	wd := watchdog.New(cfg.Clock, log)
	arb := arbiter.New(arbiter.Config{
		Correlator:  cfg.Correlator,
		HostProcess: cfg.HostProcess,
		CrashWindow: cfg.CrashWindow,
		Budget:      cfg.CorrelatorBudget,
		OnAccept:    wd.Disarm,
		Clock:       cfg.Clock,
		Logger:      log,
	})

	return &Session{cfg: cfg, arb: arb, wd: wd, gath: cfg.Gatherer, log: log}
}

// Run blocks until the session outcome is finalized and its diagnostics are
// ready, then returns the outcome. The returned error only covers failures
// to run the session machinery itself; how the session ended is the
// outcome's business.
func (s *Session) Run(ctx context.Context) (*outcome.Outcome, error) {
	s.gath.StartSession()
	s.log.Info("session started", "timeout", s.cfg.Timeout)

	if s.cfg.Timeout > 0 {
		if err := s.wd.Arm(s.cfg.Timeout, s.arb.ReportTermination); err != nil {
			return nil, fmt.Errorf("failed to start session: %w", err)
		}
	}

	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, srcCtx := errgroup.WithContext(srcCtx)
	for _, src := range s.cfg.Sources {
		src := src
		g.Go(func() error {
			if err := src.Run(srcCtx, s.arb.ReportTermination); err != nil {
				return fmt.Errorf("%s failed: %w", src.Name(), err)
			}
			return nil
		})
	}

	select {
	case <-s.arb.Finalized():
	case <-ctx.Done():
		s.arb.ReportTermination(outcome.InternalError(
			fmt.Errorf("session context ended before any terminal signal: %w", ctx.Err())))
	}

	res, _ := s.arb.FinalResult()
	s.gath.FinalizeOutcome(res)
	s.log.Info("session finalized", "kind", string(res.Kind()))

	// The race is decided; remaining sources just have to wind down.
	cancel()
	if err := g.Wait(); err != nil {
		s.log.Warn("termination source error after finalization", "error", err)
	}

	<-s.arb.DiagnosticsReady()
	s.gath.FinishDiagnostics(res)
	if crash := res.Crash(); crash != nil {
		s.log.Info("session diagnostics ready", "crash", crash.Path)
	}

	return res, nil
}

// RequestDisconnect asks for graceful early termination. It returns whether
// the disconnect won the outcome race; after the session is finalized it
// returns false and does nothing else.
func (s *Session) RequestDisconnect() bool {
	return s.arb.ReportTermination(outcome.ClientRequestedDisconnect())
}

// ReportInternalError submits an orchestrator-side error as a terminal
// signal.
func (s *Session) ReportInternalError(err error) bool {
	return s.arb.ReportTermination(outcome.InternalError(err))
}

// Result returns the latched outcome once one exists; it never blocks.
func (s *Session) Result() (*outcome.Outcome, bool) {
	return s.arb.FinalResult()
}

// Finalized is closed when the outcome is latched.
func (s *Session) Finalized() <-chan struct{} { return s.arb.Finalized() }

// DiagnosticsReady is closed when crash enrichment has completed or its
// budget expired.
func (s *Session) DiagnosticsReady() <-chan struct{} { return s.arb.DiagnosticsReady() }
