package natsgath

import (
	"time"

	"github.com/nats-io/nats.go"

	"github.com/devicelab/sessiond/api"
	"github.com/devicelab/sessiond/pkg/outcome"
)

type natsGatherer struct {
	nc          *nats.Conn
	inbox       string
	sessionUuid string

	timeout time.Duration
}

// StartSession implements session.EventGatherer.
func (s *natsGatherer) StartSession() {
	s.send(api.NewStartSession(s.sessionUuid, s.timeout))
}

// FinalizeOutcome implements session.EventGatherer.
func (s *natsGatherer) FinalizeOutcome(o *outcome.Outcome) {
	var errMsgPtr *string
	if err := o.Err(); err != nil {
		errMsg := err.Error()
		errMsgPtr = &errMsg
	}
	var timeoutMsPtr *int64
	if o.Kind() == outcome.KindTimeout {
		timeoutMs := o.Timeout().Milliseconds()
		timeoutMsPtr = &timeoutMs
	}
	s.send(api.NewFinalizeOutcome(
		s.sessionUuid,
		string(o.Kind()),
		o.DidEndSuccessfully(),
		errMsgPtr,
		timeoutMsPtr,
	))
}

// FinishDiagnostics implements session.EventGatherer.
func (s *natsGatherer) FinishDiagnostics(o *outcome.Outcome) {
	var crash *api.CrashReport
	if r := o.Crash(); r != nil {
		crash = &api.CrashReport{
			Process:   r.Process,
			Path:      r.Path,
			Timestamp: r.Timestamp.Format(time.RFC3339),
			Excerpt:   trimStrToRect(r.Excerpt, api.MaxCrashExcerptHeight, api.MaxCrashExcerptWidth),
		}
	}
	s.send(api.NewFinishDiagnostics(s.sessionUuid, crash))
}
