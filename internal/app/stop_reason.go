package app

// StopReason is logged when the app stops.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopStartFail  StopReason = "start_failed"
	StopAppStop    StopReason = "app_stop"
)
