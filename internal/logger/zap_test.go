package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestToZapLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{" WARN ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", defaultZapLevel},
		{"", defaultZapLevel},
	}
	for _, tc := range cases {
		if got := toZapLevel(tc.in); got != tc.want {
			t.Errorf("toZapLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestForDevice_NilReceiverFallsBackToNop(t *testing.T) {
	var l *Logger
	child := l.ForDevice("poller", "fan-1")
	if child == nil || child.SugaredLogger == nil {
		t.Fatalf("expected usable nop logger")
	}
	child.Infow("does not panic")
}
