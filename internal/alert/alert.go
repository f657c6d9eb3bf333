// Package alert delivers operational alerts to logs and to Pub/Sub.
package alert

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// LogSink writes alerts to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink. A nil logger discards alerts.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("alert")}
}

// Alert logs a at warn or error level depending on its severity.
func (s *LogSink) Alert(_ context.Context, a gazette.Alert) error {
	fields := make([]zap.Field, 0, len(a.Fields)+2)
	fields = append(fields, zap.String("component", a.Component), zap.Time("at", a.At))
	for k, v := range a.Fields {
		fields = append(fields, zap.String(k, v))
	}
	level := zapcore.WarnLevel
	if a.Severity == gazette.SeverityCritical {
		level = zapcore.ErrorLevel
	}
	if ce := s.logger.Check(level, a.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

// Multi fans an alert out to every sink. One failing sink does not stop the
// others; their errors are joined.
type Multi []gazette.AlertSink

// Alert implements gazette.AlertSink.
func (m Multi) Alert(ctx context.Context, a gazette.Alert) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
