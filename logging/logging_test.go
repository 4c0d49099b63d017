package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevelAndFormat(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLevel logrus.Level
		wantJSON  bool
		wantErr   bool
	}{
		{"defaults", Options{}, logrus.InfoLevel, false, false},
		{"debug text", Options{Level: "debug", Format: "text"}, logrus.DebugLevel, false, false},
		{"warn json", Options{Level: "warn", Format: "JSON"}, logrus.WarnLevel, true, false},
		{"bad level", Options{Level: "loud"}, 0, false, true},
		{"bad format", Options{Format: "xml"}, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if logger.GetLevel() != tt.wantLevel {
				t.Errorf("level = %v, want %v", logger.GetLevel(), tt.wantLevel)
			}
			_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
			if isJSON != tt.wantJSON {
				t.Errorf("json formatter = %v, want %v", isJSON, tt.wantJSON)
			}
		})
	}
}

func TestNewWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "notional.log")

	opts := DefaultOptions()
	opts.File = path
	opts.Format = "json"
	logger, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	logger.WithField("symbol", "SPY").Info("refresh complete")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !strings.Contains(string(data), `"symbol":"SPY"`) {
		t.Errorf("log file = %q, want symbol field", data)
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatal("OrDefault(nil) = nil")
	}
	logger := logrus.New()
	if OrDefault(logger) != logger {
		t.Error("OrDefault() replaced a non-nil logger")
	}
}
