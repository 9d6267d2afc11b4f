package adapters

import (
	"testing"
)

func TestNoOpLoggerAdapter(t *testing.T) {
	logger := NewNoOpLoggerAdapter()

	// None of these should panic or produce output
	logger.Debug("debug message", "arg1", "arg2")
	logger.Info("info message %s %d", "test", 123)
	logger.Warn("warn message", nil)
	logger.Error("error message")
}

func TestNoOpLoggerAdapter_Constructor(t *testing.T) {
	logger := NewNoOpLoggerAdapter()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	var _ LoggerAdapter = logger
}
