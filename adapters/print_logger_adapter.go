package adapters

import (
	"io"
	"log"
	"os"
)

// PrintLoggerAdapter implements LoggerAdapter using standard log package
type PrintLoggerAdapter struct {
	level  LogLevel
	logger *log.Logger
}

// NewPrintLoggerAdapter creates a new print logger writing to stderr with the specified level
func NewPrintLoggerAdapter(level LogLevel) *PrintLoggerAdapter {
	return NewPrintLoggerAdapterTo(os.Stderr, level)
}

// NewPrintLoggerAdapterTo creates a print logger writing to w.
func NewPrintLoggerAdapterTo(w io.Writer, level LogLevel) *PrintLoggerAdapter {
	return &PrintLoggerAdapter{
		level:  level,
		logger: log.New(w, "", log.LstdFlags),
	}
}

func (p *PrintLoggerAdapter) shouldLog(level LogLevel) bool {
	if p.level == LogLevelNone {
		return false
	}
	return level.rank() >= p.level.rank()
}

func (p *PrintLoggerAdapter) print(level LogLevel, message string, args []any) {
	if p.shouldLog(level) {
		p.logger.Printf("["+string(level)+"] [Beacon] "+message, args...)
	}
}

func (p *PrintLoggerAdapter) Debug(message string, args ...any) {
	p.print(LogLevelDebug, message, args)
}

func (p *PrintLoggerAdapter) Info(message string, args ...any) {
	p.print(LogLevelInfo, message, args)
}

func (p *PrintLoggerAdapter) Warn(message string, args ...any) {
	p.print(LogLevelWarn, message, args)
}

func (p *PrintLoggerAdapter) Error(message string, args ...any) {
	p.print(LogLevelError, message, args)
}
