package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, dev := range []bool{false, true} {
		logger, err := New("warn", dev)
		if err != nil {
			t.Fatalf("New(warn, %v): %v", dev, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("info should be disabled at warn level (development=%v)", dev)
		}
		if !logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Errorf("error should be enabled at warn level (development=%v)", dev)
		}
	}

	if _, err := New("chatty", false); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}
