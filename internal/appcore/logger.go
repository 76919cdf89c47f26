package appcore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

const EventSchemaVersion = "v1"

// Logger is a leveled logger. Messages of the form "event=name k=v ..."
// are additionally parsed into an event name and typed fields so sinks
// can emit them as structured records.
type Logger struct {
	enabled bool
	level   LogLevel
	sink    LogSink
}

type LogSink interface {
	Write(entry LogEntry) error
}

type LogEntry struct {
	Timestamp     time.Time
	Level         LogLevel
	Message       string
	SchemaVersion string
	Event         string
	Fields        map[string]any
}

type LoggerSinkConfig struct {
	Sink     string
	FilePath string
}

type LoggerConfig struct {
	Enabled bool
	Level   string
	LoggerSinkConfig
}

func (level LogLevel) String() string {
	switch level {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info", "":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("invalid log level %q (use: error, warn, info, debug)", level)
	}
}

func NewLogSink(config LoggerSinkConfig) (LogSink, error) {
	sink := strings.ToLower(strings.TrimSpace(config.Sink))
	switch sink {
	case "", "stderr":
		return newTextSink(os.Stderr), nil
	case "stdout":
		return newTextSink(os.Stdout), nil
	case "json-file":
		filePath := strings.TrimSpace(config.FilePath)
		if filePath == "" {
			return nil, fmt.Errorf("log sink json-file requires a file path")
		}
		if dir := filepath.Dir(filePath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create log directory %q: %w", dir, err)
			}
		}
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", filePath, err)
		}
		return &jsonSink{writer: file, closer: file}, nil
	default:
		return nil, fmt.Errorf("invalid log sink %q (use: stderr, stdout, json-file)", config.Sink)
	}
}

func NewLogger(config LoggerConfig) (Logger, error) {
	level, err := ParseLogLevel(config.Level)
	if err != nil {
		return Logger{}, err
	}
	if !config.Enabled {
		return Logger{level: level}, nil
	}

	sink, err := NewLogSink(config.LoggerSinkConfig)
	if err != nil {
		return Logger{}, err
	}
	return Logger{enabled: true, level: level, sink: sink}, nil
}

// NewWriterLogger logs text lines to writer. Used by tests and embedders
// that already own an output stream.
func NewWriterLogger(writer io.Writer, level LogLevel) Logger {
	return Logger{enabled: true, level: level, sink: newTextSink(writer)}
}

// Close releases the sink's file, if it has one.
func (logger Logger) Close() error {
	if closer, ok := logger.sink.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (logger Logger) Enabled(level LogLevel) bool {
	return logger.enabled && level <= logger.level
}

func (logger Logger) logf(level LogLevel, format string, args ...interface{}) {
	if !logger.Enabled(level) {
		return
	}
	message := fmt.Sprintf(format, args...)

	entry := LogEntry{
		Timestamp:     time.Now(),
		Level:         level,
		Message:       message,
		SchemaVersion: EventSchemaVersion,
	}
	if eventName, fields, ok := parseEventMessage(message); ok {
		entry.Event = eventName
		entry.Fields = fields
	}

	sink := logger.sink
	if sink == nil {
		sink = newTextSink(os.Stderr)
	}
	if err := sink.Write(entry); err != nil {
		fmt.Fprintf(os.Stderr, "%s [WARN] failed to write log entry: %v\n", time.Now().Format(time.RFC3339), err)
	}
}

func (logger Logger) Errorf(format string, args ...interface{}) {
	logger.logf(LogLevelError, format, args...)
}

func (logger Logger) Warnf(format string, args ...interface{}) {
	logger.logf(LogLevelWarn, format, args...)
}

func (logger Logger) Infof(format string, args ...interface{}) {
	logger.logf(LogLevelInfo, format, args...)
}

func (logger Logger) Debugf(format string, args ...interface{}) {
	logger.logf(LogLevelDebug, format, args...)
}

// textSink colors the level label when the writer is a terminal.
type textSink struct {
	mu     sync.Mutex
	writer io.Writer
	levels map[LogLevel]lipgloss.Style
	dim    lipgloss.Style
}

func newTextSink(writer io.Writer) *textSink {
	renderer := lipgloss.NewRenderer(writer)
	return &textSink{
		writer: writer,
		levels: map[LogLevel]lipgloss.Style{
			LogLevelError: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
			LogLevelWarn:  renderer.NewStyle().Foreground(lipgloss.Color("214")),
			LogLevelInfo:  renderer.NewStyle().Foreground(lipgloss.Color("42")),
			LogLevelDebug: renderer.NewStyle().Foreground(lipgloss.Color("241")),
		},
		dim: renderer.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func (sink *textSink) Write(entry LogEntry) error {
	label := "[" + entry.Level.String() + "]"
	if style, ok := sink.levels[entry.Level]; ok {
		label = style.Render(label)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	_, err := fmt.Fprintf(sink.writer, "%s %s %s\n", sink.dim.Render(entry.Timestamp.Format(time.RFC3339)), label, entry.Message)
	return err
}

type jsonSink struct {
	mu     sync.Mutex
	writer io.Writer
	closer io.Closer
}

type jsonLogRecord struct {
	SchemaVersion string         `json:"schema_version"`
	Timestamp     string         `json:"timestamp"`
	Level         string         `json:"level"`
	Message       string         `json:"message,omitempty"`
	Event         string         `json:"event,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

func (sink *jsonSink) Write(entry LogEntry) error {
	record := jsonLogRecord{
		SchemaVersion: entry.SchemaVersion,
		Timestamp:     entry.Timestamp.Format(time.RFC3339Nano),
		Level:         strings.ToLower(entry.Level.String()),
		Message:       entry.Message,
		Event:         entry.Event,
		Fields:        entry.Fields,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	sink.mu.Lock()
	defer sink.mu.Unlock()
	_, err = sink.writer.Write(payload)
	return err
}

func (sink *jsonSink) Close() error {
	if sink.closer == nil {
		return nil
	}
	return sink.closer.Close()
}

// parseEventMessage splits "event=name k=v ..." into the event name and
// fields. Tokens without "=" are ignored.
func parseEventMessage(message string) (string, map[string]any, bool) {
	tokens := strings.Fields(message)
	if len(tokens) == 0 {
		return "", nil, false
	}
	name, found := strings.CutPrefix(tokens[0], "event=")
	if !found || name == "" {
		return "", nil, false
	}

	fields := make(map[string]any, len(tokens)-1)
	for _, token := range tokens[1:] {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			continue
		}
		fields[key] = coerceFieldValue(value)
	}
	return name, fields, true
}

func coerceFieldValue(raw string) any {
	if parsedInt, err := strconv.Atoi(raw); err == nil {
		return parsedInt
	}
	if parsedBool, err := strconv.ParseBool(raw); err == nil {
		return parsedBool
	}
	if strings.Contains(raw, ".") {
		if parsedFloat, err := strconv.ParseFloat(raw, 64); err == nil {
			return parsedFloat
		}
	}
	return raw
}
