package capability

import "errors"

// Domain-specific errors for the capability registry.
var (
	// ErrDuplicateTool is returned when registering a name that already
	// exists. Duplicate names are a configuration error: the original
	// registration stays in place.
	ErrDuplicateTool = errors.New("capability: tool name already registered")

	// ErrDuplicatePort is the port registry equivalent.
	ErrDuplicatePort = errors.New("capability: port name already registered")

	// ErrPortNotFound is returned when looking up an unknown port.
	ErrPortNotFound = errors.New("capability: port not found")
)

// Observation error codes surfaced to the orchestrator.
const (
	// ErrCodeUnsupportedTool means no registered capability matches the
	// command's tool name.
	ErrCodeUnsupportedTool = "unsupported_tool"

	// ErrCodeBadRequest means the command envelope was malformed.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeInvalidArgs means the args failed the tool's parameter
	// schema; the tool was not invoked.
	ErrCodeInvalidArgs = "invalid_args"
)
