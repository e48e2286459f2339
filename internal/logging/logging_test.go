package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		l, err := New(lvl, false)
		if err != nil {
			t.Fatalf("New(%q): %v", lvl, err)
		}
		if l == nil {
			t.Fatalf("New(%q) returned nil logger", lvl)
		}
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("chatty", false); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	l, err := New("error", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbose logger should enable debug")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}
