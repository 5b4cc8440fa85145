package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/inkline/internal/config"
	"github.com/pitabwire/inkline/model"
)

type loggerKey struct{}

// NewLogger builds the process logger. Every entry carries the service name
// and build version.
//
// Level conventions:
//   - error: infrastructure failures and 5xx responses
//   - warn:  degraded operation (breaker open, session write failed, rollback, partial upload)
//   - info:  request summaries, submissions, flow loading, migrations
//   - debug: cache hits, superseded availability checks, redacted step payloads
func NewLogger(cfg config.ObservabilityConfig, service string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoding := "json"
	encodeLevel := zapcore.LowercaseLevelEncoder
	if cfg.LogFormat == "console" {
		encoding = "console"
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]any{
			"service": service,
			"version": Version,
		},
	}
	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context logger, or fallback when there is none.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger annotated with the caller's
// subject, correlation ID, device and trace.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.DeviceID != "" {
		fields = append(fields, zap.String("device_id", rctx.DeviceID))
	}
	traceID := rctx.TraceID
	if traceID == "" {
		traceID = TraceIDFromContext(ctx)
	}
	if traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// sensitiveKeyParts match anywhere in a normalized key, so "confirmPassword"
// and "refresh_token" are both caught.
var sensitiveKeyParts = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"authorization",
	"creditcard",
	"cvv",
	"ssn",
}

// sensitiveKeys only match exactly; as substrings they would catch
// ordinary fields.
var sensitiveKeys = map[string]bool{
	"pin": true,
	"otp": true,
}

// RedactBody returns a copy of body safe for debug logging. Values under
// sensitive keys, plus any key named in extra, become "[REDACTED]". Nested
// objects and arrays are walked. Key matching ignores case, "_" and "-".
func RedactBody(body map[string]any, extra ...string) map[string]any {
	if body == nil {
		return nil
	}
	extraSet := make(map[string]bool, len(extra))
	for _, k := range extra {
		extraSet[normalizeKey(k)] = true
	}
	return redactMap(body, extraSet)
}

func redactMap(m map[string]any, extra map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k, extra) {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v, extra)
	}
	return out
}

func redactValue(v any, extra map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, extra)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e, extra)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string, extra map[string]bool) bool {
	n := normalizeKey(key)
	if extra[n] || sensitiveKeys[n] {
		return true
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(n, part) {
			return true
		}
	}
	return false
}

func normalizeKey(k string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(k))
}
