package output

// StructuredError is a CLI error with machine-parseable metadata.
type StructuredError struct {
	// Code is a machine-readable error identifier (e.g., "AUTH_REQUIRED")
	Code string `json:"code" yaml:"code"`

	// Message is a human-readable error description
	Message string `json:"message" yaml:"message"`

	// Guidance explains what the user can do about it
	Guidance string `json:"guidance,omitempty" yaml:"guidance,omitempty"`

	// RecoveryCommand suggests a command to fix the issue
	RecoveryCommand string `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`

	// Context contains additional structured data about the error
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

// Error implements the error interface for StructuredError.
func (e StructuredError) Error() string {
	return e.Message
}

// Error codes reported by mcpgate commands.
const (
	ErrCodeConfigInvalid    = "CONFIG_INVALID"
	ErrCodeServerNotFound   = "SERVER_NOT_FOUND"
	ErrCodeServerDisabled   = "SERVER_DISABLED"
	ErrCodeToolNotFound     = "TOOL_NOT_FOUND"
	ErrCodeAuthRequired     = "AUTH_REQUIRED"
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeOperationFailed  = "OPERATION_FAILED"
)

// NewStructuredError creates a new StructuredError with the given code and message.
func NewStructuredError(code, message string) StructuredError {
	return StructuredError{
		Code:    code,
		Message: message,
	}
}

// WithGuidance adds guidance to the error.
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithRecoveryCommand adds a recovery command suggestion.
func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

// WithContext adds context data to the error.
func (e StructuredError) WithContext(key string, value any) StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
