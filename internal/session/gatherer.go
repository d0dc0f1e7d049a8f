package session

import (
	"github.com/devicelab/sessiond/pkg/outcome"
)

// EventGatherer receives session lifecycle events for downstream reporting.
// FinalizeOutcome fires as soon as the outcome is latched; FinishDiagnostics
// fires once crash enrichment has completed or its budget expired, so eager
// consumers never wait on the correlator.
type EventGatherer interface {
	StartSession()

	FinalizeOutcome(o *outcome.Outcome)
	FinishDiagnostics(o *outcome.Outcome)
}

// NoopGatherer discards all events.
type NoopGatherer struct{}

func (NoopGatherer) StartSession()                        {}
func (NoopGatherer) FinalizeOutcome(o *outcome.Outcome)   {}
func (NoopGatherer) FinishDiagnostics(o *outcome.Outcome) {}
