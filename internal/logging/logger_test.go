package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
		{" trace ", zerolog.TraceLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWatermillAdapter_WritesFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	adapter := NewWatermillAdapter(zerolog.New(&buf))

	adapter.With(watermill.LogFields{"topic": "tasks.main"}).
		Error("handler failed", errors.New("boom"), watermill.LogFields{"attempt": 1})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	if entry["topic"] != "tasks.main" {
		t.Errorf("expected topic field, got %v", entry["topic"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
	if entry["message"] != "handler failed" {
		t.Errorf("expected message, got %v", entry["message"])
	}
}

func TestAsynqAdapter(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	a := AsynqAdapter{L: zerolog.New(&buf)}

	a.Warn("queue ", "main", " is slow")

	if !strings.Contains(buf.String(), "queue main is slow") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
