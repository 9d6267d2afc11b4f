package adapters

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelNone  LogLevel = "NONE"
)

// rank orders levels from most to least verbose. Unknown levels rank as WARN.
func (l LogLevel) rank() int {
	switch l {
	case LogLevelDebug:
		return 0
	case LogLevelInfo:
		return 1
	case LogLevelError:
		return 3
	case LogLevelNone:
		return 4
	default:
		return 2
	}
}

// LoggerAdapter is an interface for logging.
// Implement this interface to route beacon diagnostics to your own logger.
type LoggerAdapter interface {
	// Debug logs a debug message
	Debug(message string, args ...any)
	// Info logs an info message
	Info(message string, args ...any)
	// Warn logs a warning message
	Warn(message string, args ...any)
	// Error logs an error message
	Error(message string, args ...any)
}
