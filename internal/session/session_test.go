package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/sessiond/internal/session"
	"github.com/devicelab/sessiond/pkg/outcome"
)

// funcSource adapts a func to the session.Source interface.
type funcSource struct {
	name string
	run  func(ctx context.Context, propose func(*outcome.Outcome) bool) error
}

func (s funcSource) Name() string { return s.name }
func (s funcSource) Run(ctx context.Context, propose func(*outcome.Outcome) bool) error {
	return s.run(ctx, propose)
}

// idleSource blocks until the session ends, proposing nothing.
var idleSource = funcSource{
	name: "idle",
	run: func(ctx context.Context, propose func(*outcome.Outcome) bool) error {
		<-ctx.Done()
		return nil
	},
}

// recordingGatherer records the order of session events.
type recordingGatherer struct {
	mu     sync.Mutex
	events []string
	final  *outcome.Outcome
}

func (g *recordingGatherer) record(ev string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, ev)
}

func (g *recordingGatherer) StartSession() { g.record("start") }
func (g *recordingGatherer) FinalizeOutcome(o *outcome.Outcome) {
	g.mu.Lock()
	g.final = o
	g.mu.Unlock()
	g.record("finalize")
}
func (g *recordingGatherer) FinishDiagnostics(o *outcome.Outcome) { g.record("diagnostics") }

func (g *recordingGatherer) Events() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.events...)
}

func TestSuccessfulCompletion(t *testing.T) {
	gath := &recordingGatherer{}
	sess := session.New(session.Config{
		ID:       "sess-1",
		Timeout:  time.Minute,
		Gatherer: gath,
		Sources: []session.Source{funcSource{
			name: "bundle monitor",
			run: func(ctx context.Context, propose func(*outcome.Outcome) bool) error {
				propose(outcome.Success())
				return nil
			},
		}},
	})

	res, err := sess.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.DidEndSuccessfully())
	assert.Equal(t, []string{"start", "finalize", "diagnostics"}, gath.Events())
}

// Scenario: a disconnect is requested at t=5s while a 30s watchdog is
// armed. The session must end as a client disconnect, the watchdog timer
// must be cancelled, and no timeout outcome may ever surface even after the
// deadline would have elapsed.
func TestDisconnectBeatsWatchdog(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(0, 0))
	gath := &recordingGatherer{}
	sess := session.New(session.Config{
		ID:       "sess-2",
		Timeout:  30 * time.Second,
		Gatherer: gath,
		Sources:  []session.Source{idleSource},
		Clock:    fc,
	})

	type runResult struct {
		res *outcome.Outcome
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		res, err := sess.Run(context.Background())
		done <- runResult{res, err}
	}()

	// Wait for the watchdog timer to be armed, advance to t=5s, disconnect.
	fc.WaitForWatcherAndIncrement(5 * time.Second)
	assert.True(t, sess.RequestDisconnect())

	var got runResult
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session never finished")
	}
	require.NoError(t, got.err)
	assert.Equal(t, outcome.KindClientDisconnect, got.res.Kind())

	// Push the clock well past the 30s deadline: the cancelled timer must
	// stay silent and the latched outcome must not change.
	fc.Increment(time.Minute)
	time.Sleep(50 * time.Millisecond)
	res, ok := sess.Result()
	require.True(t, ok)
	assert.Equal(t, outcome.KindClientDisconnect, res.Kind())
	assert.NoError(t, res.Err())
}

func TestWatchdogTimesOutIdleSession(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Unix(0, 0))
	sess := session.New(session.Config{
		ID:      "sess-3",
		Timeout: 30 * time.Second,
		Sources: []session.Source{idleSource},
		Clock:   fc,
	})

	done := make(chan *outcome.Outcome, 1)
	go func() {
		res, err := sess.Run(context.Background())
		if err != nil {
			t.Error(err)
		}
		done <- res
	}()

	fc.WaitForWatcherAndIncrement(30 * time.Second)

	select {
	case res := <-done:
		assert.Equal(t, outcome.KindTimeout, res.Kind())
		assert.Equal(t, 30*time.Second, res.Timeout())
	case <-time.After(5 * time.Second):
		t.Fatal("session never timed out")
	}
}

func TestRequestDisconnectAfterFinalizationIsRejected(t *testing.T) {
	sess := session.New(session.Config{
		ID: "sess-4",
		Sources: []session.Source{funcSource{
			name: "bundle monitor",
			run: func(ctx context.Context, propose func(*outcome.Outcome) bool) error {
				propose(outcome.Success())
				return nil
			},
		}},
	})

	res, err := sess.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.DidEndSuccessfully())

	assert.False(t, sess.RequestDisconnect())
	res2, ok := sess.Result()
	require.True(t, ok)
	assert.Same(t, res, res2)
}

func TestInternalErrorKeepsErrorVerbatim(t *testing.T) {
	sess := session.New(session.Config{
		ID:      "sess-5",
		Sources: []session.Source{idleSource},
	})

	errBoot := errors.New("failed to install test bundle")
	done := make(chan *outcome.Outcome, 1)
	go func() {
		res, _ := sess.Run(context.Background())
		done <- res
	}()

	// Report an orchestrator-side error while the sources are idle.
	assert.True(t, sess.ReportInternalError(errBoot))

	select {
	case res := <-done:
		assert.Equal(t, outcome.KindInternalError, res.Kind())
		assert.ErrorIs(t, res.Err(), errBoot)
		assert.Nil(t, res.Crash())
	case <-time.After(5 * time.Second):
		t.Fatal("session never finished")
	}
}
