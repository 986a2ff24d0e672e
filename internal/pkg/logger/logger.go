package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields = logrus.Fields

type Config struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// Logger wraps logrus with the key/value helpers used across the services.
type Logger struct {
	entry *logrus.Entry
}

func New(cfg Config) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("log output is file but no file path configured")
		}
		out = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}
	base.SetOutput(out)

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.entry.WithFields(kvFields(kv)).Debug(msg) }
func (l *Logger) Info(msg string, kv ...any)  { l.entry.WithFields(kvFields(kv)).Info(msg) }
func (l *Logger) Warn(msg string, kv ...any)  { l.entry.WithFields(kvFields(kv)).Warn(msg) }
func (l *Logger) Error(msg string, kv ...any) { l.entry.WithFields(kvFields(kv)).Error(msg) }

// LogService records one call into an external collaborator (LLM provider,
// scraper target, cache).
func (l *Logger) LogService(service, operation string, duration time.Duration, fields map[string]any, err error) {
	entry := l.entry.WithFields(Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	}).WithFields(fields)

	if err != nil {
		entry.WithError(err).Error("service call failed")
		return
	}
	entry.Info("service call completed")
}

// LogStage records one pipeline stage transition for a request.
func (l *Logger) LogStage(requestID string, stage string, duration time.Duration, fields map[string]any, err error) {
	entry := l.entry.WithFields(Fields{
		"request_id":  requestID,
		"stage":       stage,
		"duration_ms": duration.Milliseconds(),
	}).WithFields(fields)

	if err != nil {
		entry.WithError(err).Error("stage failed")
		return
	}
	entry.Info("stage completed")
}

// LogRequest records lifecycle events of a whole pipeline pass.
func (l *Logger) LogRequest(requestID, event string, duration time.Duration, err error) {
	entry := l.entry.WithFields(Fields{
		"request_id":  requestID,
		"event":       event,
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		entry.WithError(err).Error("request failed")
		return
	}
	entry.Info(event)
}

func kvFields(kv []any) Fields {
	if len(kv) == 0 {
		return nil
	}
	fields := make(Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		fields[key] = kv[i+1]
	}
	if len(kv)%2 != 0 {
		fields["extra"] = kv[len(kv)-1]
	}
	return fields
}
