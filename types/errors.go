package types

import "errors"

// Error kinds shared across the pipeline. Concrete errors wrap one of these
// so callers can classify failures with errors.Is.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrRequestFailure    = errors.New("request failed")
	ErrProtocol          = errors.New("malformed response")
	ErrJobTimeout        = errors.New("job timed out")
	ErrJobFailed         = errors.New("job failed")
	ErrMissingDependency = errors.New("missing dependency")
	ErrMediaTool         = errors.New("media tool failed")
	ErrNoScenes          = errors.New("no scenes completed")
)
