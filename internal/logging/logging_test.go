package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
		debugEnabled  bool
	}{
		{"info", "json", false, false},
		{"debug", "console", false, true},
		{"warn", "", false, false},
		{"loud", "json", true, false},
		{"info", "xml", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q, %q) error = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := logger.Core().Enabled(zap.DebugLevel); got != tt.debugEnabled {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugEnabled)
			}
		})
	}
}
