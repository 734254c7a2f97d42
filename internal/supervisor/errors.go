package supervisor

import "errors"

// Sentinel errors for the supervisor's command and safety-shutdown paths.
var (
	ErrAdapterTimeout     = errors.New("adapter call timed out")
	ErrDeviceProtocol     = errors.New("device returned a protocol error")
	ErrSafetyActionFailed = errors.New("safety shutdown action failed")
	ErrUnknownCommand     = errors.New("unknown operator command")
	ErrNotInitialized     = errors.New("supervisor not initialized")
)
