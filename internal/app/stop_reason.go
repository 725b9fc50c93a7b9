package app

// StopReason explains why the app is shutting down; it ends up in the
// final log lines.
type StopReason string

const (
	StopReasonSignal StopReason = "signal"
	StopReasonFatal  StopReason = "fatal-error"
	StopReasonManual StopReason = "manual"
)
