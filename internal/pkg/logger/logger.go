// Package logger is the process-wide structured logger. Call sites pass a
// message and alternating key/value pairs; values under PII-bearing keys, and
// email addresses embedded in any value, are masked before they are written.
package logger

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu        sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base      = newZap(os.Stderr, "audience-engine")
	redactPII = true
)

func newZap(w zapcore.WriteSyncer, service string) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level)
	return zap.New(core).With(zap.String("service", service))
}

// Init replaces the default logger. level is one of debug, info, warn, error.
func Init(service, lvl string) error {
	if err := SetLevel(lvl); err != nil {
		return err
	}
	mu.Lock()
	base = newZap(os.Stderr, service)
	mu.Unlock()
	return nil
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w zapcore.WriteSyncer) {
	mu.Lock()
	base = newZap(w, "audience-engine")
	mu.Unlock()
}

// SetLevel sets the minimum level.
func SetLevel(lvl string) error {
	if lvl == "" {
		return nil
	}
	parsed, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	level.SetLevel(parsed)
	return nil
}

// SetRedactPII enables or disables PII redaction.
func SetRedactPII(r bool) {
	mu.Lock()
	redactPII = r
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() { _ = current().Sync() }

func Debug(msg string, kv ...interface{}) { write(zapcore.DebugLevel, msg, kv) }
func Info(msg string, kv ...interface{})  { write(zapcore.InfoLevel, msg, kv) }
func Warn(msg string, kv ...interface{})  { write(zapcore.WarnLevel, msg, kv) }
func Error(msg string, kv ...interface{}) { write(zapcore.ErrorLevel, msg, kv) }

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func write(lvl zapcore.Level, msg string, kv []interface{}) {
	l := current()
	ce := l.Check(lvl, msg)
	if ce == nil {
		return
	}
	mu.RLock()
	redact := redactPII
	mu.RUnlock()

	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		switch v := kv[i+1].(type) {
		case error:
			fields = append(fields, zap.String(key, maybeRedact(redact, key, v.Error())))
		case string:
			fields = append(fields, zap.String(key, maybeRedact(redact, key, v)))
		case fmt.Stringer:
			fields = append(fields, zap.String(key, maybeRedact(redact, key, v.String())))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}
	ce.Write(fields...)
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func maybeRedact(enabled bool, key, val string) string {
	if !enabled {
		return val
	}
	switch strings.ToLower(key) {
	case "email", "to", "from", "recipient":
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks an address for safe logging:
// "john.doe@example.com" becomes "jo***@example.com" and local parts of two
// characters or fewer are masked entirely.
func RedactEmail(email string) string {
	name, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(name) > 2 {
		return name[:2] + "***@" + domain
	}
	return "***@" + domain
}
