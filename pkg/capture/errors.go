package capture

import "errors"

var (
	// ErrEngineStart wraps failures to start or restart the audio engine.
	ErrEngineStart = errors.New("capture: engine start failed")

	// ErrAlreadyRunning is returned when starting something that is running.
	ErrAlreadyRunning = errors.New("capture: already running")

	// ErrNotRunning is returned when stopping something that is not running.
	ErrNotRunning = errors.New("capture: not running")
)
