package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		log, err := New(in)
		if err != nil {
			t.Fatalf("New(%q): %v", in, err)
		}
		if !log.Core().Enabled(want) || (want > zapcore.DebugLevel && log.Core().Enabled(want-1)) {
			t.Errorf("New(%q) does not log exactly from %s", in, want)
		}
	}
}
