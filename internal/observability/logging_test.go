package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/inkline/internal/config"
	"github.com/pitabwire/inkline/model"
)

func bufferLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level       string
		enabled     zapcore.Level
		disabled    zapcore.Level
		hasDisabled bool
	}{
		{"debug", zapcore.DebugLevel, 0, false},
		{"info", zapcore.InfoLevel, zapcore.DebugLevel, true},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel, true},
		{"error", zapcore.ErrorLevel, zapcore.WarnLevel, true},
		{"bogus", zapcore.InfoLevel, zapcore.DebugLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level}, "inkline-test")
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Sync()

			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("%v should be enabled", tt.enabled)
			}
			if tt.hasDisabled && logger.Core().Enabled(tt.disabled) {
				t.Errorf("%v should be disabled", tt.disabled)
			}
		})
	}
}

func TestNewLogger_consoleFormat(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console"}, "inkline-test")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled")
	}
}

func TestLoggerFrom(t *testing.T) {
	stored := zap.NewNop()
	fallback := zap.NewNop()

	if got := LoggerFrom(WithLogger(context.Background(), stored), fallback); got != stored {
		t.Error("LoggerFrom should return the stored logger")
	}
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return the fallback without a stored logger")
	}
}

func TestRequestLogger_addsCallerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "artist-1",
		DeviceID:      "ios-7f2c",
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	})

	RequestLogger(ctx, logger).Info("like toggled")

	entry := decodeEntry(t, &buf)
	for key, want := range map[string]string{
		"subject_id":     "artist-1",
		"device_id":      "ios-7f2c",
		"correlation_id": "corr-abc",
		"trace_id":       "trace-xyz",
		"msg":            "like toggled",
	} {
		if got, _ := entry[key].(string); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestRequestLogger_traceFromActiveSpan(t *testing.T) {
	setupTestTracer(t)
	var buf bytes.Buffer

	ctx, span := StartSpan(context.Background(), "inbox.load")
	defer span.End()
	ctx = model.WithRequestContext(ctx, &model.RequestContext{SubjectID: "client-1", CorrelationID: "c1"})

	RequestLogger(ctx, bufferLogger(&buf)).Info("inbox loaded")

	entry := decodeEntry(t, &buf)
	if got := entry["trace_id"]; got != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want the active span's trace", got)
	}
	if _, ok := entry["device_id"]; ok {
		t.Error("device_id should be omitted when empty")
	}
}

func TestRequestLogger_withoutRequestContext(t *testing.T) {
	var buf bytes.Buffer

	RequestLogger(context.Background(), bufferLogger(&buf)).Info("startup")

	entry := decodeEntry(t, &buf)
	if _, ok := entry["subject_id"]; ok {
		t.Error("subject_id should be absent without a request context")
	}
}

func TestRedactBody(t *testing.T) {
	body := map[string]any{
		"firstName":       "Mara",
		"email":           "mara@example.com",
		"password":        "hunter22",
		"confirmPassword": "hunter22",
		"refresh_token":   "r.t",
		"Api-Key":         "k",
		"pin":             "1234",
		"shipping":        "Lisbon",
		"studio": map[string]any{
			"name":         "Black Lotus",
			"clientSecret": "s",
		},
		"portfolio": []any{
			map[string]any{"url": "https://media.inkline.app/p1.jpg", "uploadToken": "u1"},
			"plain",
		},
	}

	got := RedactBody(body)

	for _, k := range []string{"password", "confirmPassword", "refresh_token", "Api-Key", "pin"} {
		if got[k] != "[REDACTED]" {
			t.Errorf("%s = %v, want [REDACTED]", k, got[k])
		}
	}
	for _, k := range []string{"firstName", "email", "shipping"} {
		if got[k] != body[k] {
			t.Errorf("%s = %v, want it unchanged", k, got[k])
		}
	}

	studio := got["studio"].(map[string]any)
	if studio["name"] != "Black Lotus" || studio["clientSecret"] != "[REDACTED]" {
		t.Errorf("studio = %v", studio)
	}
	portfolio := got["portfolio"].([]any)
	first := portfolio[0].(map[string]any)
	if first["uploadToken"] != "[REDACTED]" || first["url"] == "[REDACTED]" {
		t.Errorf("portfolio[0] = %v", first)
	}
	if portfolio[1] != "plain" {
		t.Errorf("portfolio[1] = %v", portfolio[1])
	}

	// The input is left untouched.
	if body["password"] != "hunter22" {
		t.Errorf("input mutated: password = %v", body["password"])
	}
	if body["studio"].(map[string]any)["clientSecret"] != "s" {
		t.Error("input mutated: nested secret")
	}
}

func TestRedactBody_extraKeys(t *testing.T) {
	got := RedactBody(map[string]any{"phone_number": "555-1234", "city": "Porto"}, "phoneNumber")

	if got["phone_number"] != "[REDACTED]" {
		t.Errorf("phone_number = %v, want [REDACTED]", got["phone_number"])
	}
	if got["city"] != "Porto" {
		t.Errorf("city = %v", got["city"])
	}
}

func TestRedactBody_nil(t *testing.T) {
	if got := RedactBody(nil); got != nil {
		t.Errorf("RedactBody(nil) = %v, want nil", got)
	}
}
