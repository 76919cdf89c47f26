package appcore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type captureSink struct {
	entries []LogEntry
}

func (sink *captureSink) Write(entry LogEntry) error {
	sink.entries = append(sink.entries, entry)
	return nil
}

func TestLogger_ParsesStructuredEventMessage(t *testing.T) {
	sink := &captureSink{}
	logger := Logger{enabled: true, level: LogLevelInfo, sink: sink}

	logger.Infof("event=tool_end correlation_id=corr-123 response_bytes=42 ok=true ratio=0.5")

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	entry := sink.entries[0]
	if entry.Event != "tool_end" {
		t.Fatalf("expected event tool_end, got %q", entry.Event)
	}
	if entry.SchemaVersion != EventSchemaVersion {
		t.Fatalf("expected schema version %q, got %q", EventSchemaVersion, entry.SchemaVersion)
	}
	if value, ok := entry.Fields["correlation_id"].(string); !ok || value != "corr-123" {
		t.Fatalf("expected correlation_id corr-123, got %#v", entry.Fields["correlation_id"])
	}
	if value, ok := entry.Fields["response_bytes"].(int); !ok || value != 42 {
		t.Fatalf("expected response_bytes 42, got %#v", entry.Fields["response_bytes"])
	}
	if value, ok := entry.Fields["ok"].(bool); !ok || !value {
		t.Fatalf("expected ok true, got %#v", entry.Fields["ok"])
	}
	if value, ok := entry.Fields["ratio"].(float64); !ok || value != 0.5 {
		t.Fatalf("expected ratio 0.5, got %#v", entry.Fields["ratio"])
	}
}

func TestLogger_PlainMessageHasNoEvent(t *testing.T) {
	sink := &captureSink{}
	logger := Logger{enabled: true, level: LogLevelDebug, sink: sink}

	logger.Debugf("starting agent turn %d", 1)
	if sink.entries[0].Event != "" || sink.entries[0].Fields != nil {
		t.Fatalf("expected no event fields, got %+v", sink.entries[0])
	}
}

func TestLogger_RespectsLogLevel(t *testing.T) {
	sink := &captureSink{}
	logger := Logger{enabled: true, level: LogLevelWarn, sink: sink}

	logger.Infof("info message")
	logger.Warnf("warn message")

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	if sink.entries[0].Level != LogLevelWarn {
		t.Fatalf("expected warn level entry, got %s", sink.entries[0].Level.String())
	}
}

func TestLogger_DisabledIsSilent(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Enabled: false, Level: "debug"})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if logger.Enabled(LogLevelError) {
		t.Fatal("expected disabled logger")
	}
	logger.Errorf("nothing should be written")
}

func TestNewLogger_Validation(t *testing.T) {
	if _, err := NewLogger(LoggerConfig{Enabled: true, Level: "info", LoggerSinkConfig: LoggerSinkConfig{Sink: "json-file"}}); err == nil {
		t.Fatal("expected error when json-file sink has no path")
	}
	if _, err := NewLogger(LoggerConfig{Enabled: true, Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, err := NewLogger(LoggerConfig{Enabled: true, LoggerSinkConfig: LoggerSinkConfig{Sink: "syslog"}}); err == nil {
		t.Fatal("expected error for invalid sink")
	}
}

func TestWriterLogger_WritesLevelAndMessage(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewWriterLogger(&buffer, LogLevelInfo)

	logger.Warnf("event=transport_retry attempt=1 status=503 delay_ms=1000")
	logger.Debugf("hidden")

	output := buffer.String()
	if !strings.Contains(output, "[WARN]") || !strings.Contains(output, "event=transport_retry attempt=1") {
		t.Fatalf("unexpected text output %q", output)
	}
	if strings.Contains(output, "hidden") {
		t.Fatalf("expected debug line to be filtered, got %q", output)
	}
}

func TestJSONFileSink_WritesSchemaVersionedEventRecord(t *testing.T) {
	logFilePath := filepath.Join(t.TempDir(), "logs", "chatloop.jsonl")

	logger, err := NewLogger(LoggerConfig{Enabled: true, Level: "info", LoggerSinkConfig: LoggerSinkConfig{Sink: "json-file", FilePath: logFilePath}})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	logger.Infof("event=tool_end correlation_id=c-1 tool=read_file response_bytes=17")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	payload, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("failed reading log file: %v", err)
	}

	var record struct {
		SchemaVersion string         `json:"schema_version"`
		Level         string         `json:"level"`
		Event         string         `json:"event"`
		Fields        map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(payload, &record); err != nil {
		t.Fatalf("failed to decode log record: %v", err)
	}
	if record.SchemaVersion != EventSchemaVersion {
		t.Fatalf("expected schema_version %q, got %q", EventSchemaVersion, record.SchemaVersion)
	}
	if record.Level != "info" || record.Event != "tool_end" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Fields["correlation_id"] != "c-1" || record.Fields["response_bytes"] != float64(17) {
		t.Fatalf("unexpected fields %#v", record.Fields)
	}
}
