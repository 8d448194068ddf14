package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestModuleLoggerCarriesAttribute(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithHandler(slog.NewJSONHandler(&buf, nil)).Module("zktrie")
	l.Info("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["module"] != "zktrie" {
		t.Fatalf("module = %v, want zktrie", entry["module"])
	}
	if entry["k"] != "v" {
		t.Fatalf("k = %v, want v", entry["k"])
	}
	if entry["msg"] != "hello" {
		t.Fatalf("msg = %v", entry["msg"])
	}
}

func TestSetDefaultIgnoresNil(t *testing.T) {
	before := Default()
	SetDefault(nil)
	if Default() != before {
		t.Fatal("nil replaced the default logger")
	}
}
