package dualcache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fields carries structured log attributes.
type Fields map[string]any

// Logger is what dualcache logs through; see the log/ adapters for zap,
// logrus and slog. A nil Logger in Options disables logging.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// RedactKey is the default key redactor: the first 8 bytes of SHA-256, hex.
// Keys can embed bearer tokens (see RevokedTokenKey), so logs and error
// strings never carry them raw.
func RedactKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}
