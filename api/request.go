package api

// SessionReq asks the worker to orchestrate one test-execution session.
type SessionReq struct {
	SessionUuid string `json:"session_uuid"`

	// Addresses of the test-bundle host and the device test daemon links.
	BundleAddr string `json:"bundle_addr"`
	DaemonAddr string `json:"daemon_addr"`

	// HostProcess is the test host process name used for crash correlation.
	HostProcess string `json:"host_process"`

	// TimeoutMs arms the session watchdog; 0 falls back to the configured
	// default.
	TimeoutMs int64 `json:"timeout_ms"`

	// ResInbox is the NATS subject session events are published to.
	ResInbox string `json:"res_inbox"`
}

// DisconnectRequest asks a running session for graceful early termination.
type DisconnectRequest struct {
	SessionUuid string `json:"session_uuid"`
}
