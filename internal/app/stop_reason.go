package app

// StopReason is logged when the daemon shuts down.
type StopReason string

const (
	StopUnknown       StopReason = "unknown"
	StopSIGINT        StopReason = "sigint"
	StopSIGTERM       StopReason = "sigterm"
	StopFatalError    StopReason = "fatal_error"
	StopExtensionGone StopReason = "extension_disconnected"
)
