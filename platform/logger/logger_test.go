package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func TestDatabaseErrorIncludesExtraFields(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	l.DatabaseError("mark call connecting", errors.New("connection refused"), "leadId", "lead-1", "callId", "call_1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	want := map[string]string{
		"msg":       "database_error",
		"operation": "mark call connecting",
		"error":     "connection refused",
		"leadId":    "lead-1",
		"callId":    "call_1",
	}
	for key, value := range want {
		if record[key] != value {
			t.Fatalf("%s = %v, want %s", key, record[key], value)
		}
	}
}
