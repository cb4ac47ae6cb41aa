package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "console")).Debug(context.Background(), "sending fix",
		String("command", "geo fix 13.4 52.5 65 7"),
		Float64("distance_m", 7.5),
		Any("brokers", []string{"a:9092", "b:9092"}),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "sending fix" || rec["component"] != "console" || rec["error"] != "boom" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["distance_m"] != 7.5 {
		t.Fatalf("distance_m = %v, want 7.5", rec["distance_m"])
	}
	if brokers, ok := rec["brokers"].([]any); !ok || len(brokers) != 2 || brokers[0] != "a:9092" {
		t.Fatalf("brokers = %v, want [a:9092 b:9092]", rec["brokers"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filter output = %q", out)
	}
}

func TestSessionLoggerReusesID(t *testing.T) {
	ctx, id := EnsureSessionID(context.Background())
	if id == "" {
		t.Fatalf("EnsureSessionID returned empty id")
	}
	ctx2, id2 := EnsureSessionID(ctx)
	if id2 != id || SessionIDFromContext(ctx2) != id {
		t.Fatalf("session id changed: %q -> %q", id, id2)
	}

	var buf bytes.Buffer
	ctx3, l := WithSessionLogger(ctx, New(Config{Format: "json", Output: &buf}))
	l.Info(ctx3, "hello")
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("session logger output %q missing id %q", buf.String(), id)
	}
	if LoggerFromContext(ctx3) == nil {
		t.Fatalf("LoggerFromContext returned nil")
	}
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("LoggerFromContext on bare context should be nil")
	}
}
