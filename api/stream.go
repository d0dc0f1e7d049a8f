package api

import "time"

// MsgType is a message type for streamed session events
type MsgType string

// Streaming message type constants
const (
	StartSessionMsg      MsgType = "session_start"
	FinalizeOutcomeMsg   MsgType = "outcome_finalize"
	FinishDiagnosticsMsg MsgType = "diagnostics_finish"
)

// Crash excerpt size constraints for streaming
const (
	MaxCrashExcerptHeight = 40
	MaxCrashExcerptWidth  = 120
)

// Header is the common header for all streamed session event messages
type Header struct {
	SessionUuid string  `json:"session_uuid"`
	MsgType     MsgType `json:"msg_type"`
}

// CrashReport is the correlated crash record of the test host process
// (streaming version)
type CrashReport struct {
	Process   string `json:"process"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
	Excerpt   string `json:"excerpt"`
}

// StartSession message sent when the session begins
type StartSession struct {
	Header
	StartedTime string `json:"started_time"`
	TimeoutMs   int64  `json:"timeout_ms"`
}

// FinalizeOutcome message sent the moment the terminal outcome is latched.
// Crash diagnostics are never carried here; they arrive with
// FinishDiagnostics so consumers of the bare outcome are not delayed.
type FinalizeOutcome struct {
	Header
	Kind               string  `json:"kind"`
	DidEndSuccessfully bool    `json:"did_end_successfully"`
	ErrorMessage       *string `json:"error_message"`
	TimeoutMs          *int64  `json:"timeout_ms"`
}

// FinishDiagnostics message sent once crash enrichment completed or its
// budget expired
type FinishDiagnostics struct {
	Header
	Crash *CrashReport `json:"crash"`
}

// Helper function to create a header
func NewHeader(sessionUuid string, msgType MsgType) Header {
	return Header{
		SessionUuid: sessionUuid,
		MsgType:     msgType,
	}
}

// Helper functions to create specific streaming message types
func NewStartSession(sessionUuid string, timeout time.Duration) StartSession {
	return StartSession{
		Header:      NewHeader(sessionUuid, StartSessionMsg),
		StartedTime: time.Now().Format(time.RFC3339),
		TimeoutMs:   timeout.Milliseconds(),
	}
}

func NewFinalizeOutcome(sessionUuid, kind string, didEndSuccessfully bool, errorMessage *string, timeoutMs *int64) FinalizeOutcome {
	return FinalizeOutcome{
		Header:             NewHeader(sessionUuid, FinalizeOutcomeMsg),
		Kind:               kind,
		DidEndSuccessfully: didEndSuccessfully,
		ErrorMessage:       errorMessage,
		TimeoutMs:          timeoutMs,
	}
}

func NewFinishDiagnostics(sessionUuid string, crash *CrashReport) FinishDiagnostics {
	return FinishDiagnostics{
		Header: NewHeader(sessionUuid, FinishDiagnosticsMsg),
		Crash:  crash,
	}
}
