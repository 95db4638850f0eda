package logs

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core and masks OAuth credentials
// (bearer tokens, JWTs, codes and tokens in query strings or JSON bodies).
type SecretSanitizer struct {
	zapcore.Core
}

var (
	bearerPattern = regexp.MustCompile(`\b(Bearer\s+)([A-Za-z0-9\-._~+/]+=*)`)
	jwtPattern    = regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`)
	paramPattern  = regexp.MustCompile(`((?:access_token|refresh_token|client_secret|code|code_verifier)["']?\s*[=:]\s*["']?)([^&"'\s,}]+)`)
)

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{Core: core}
}

// Sanitize masks every credential found in s.
func Sanitize(s string) string {
	s = bearerPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := bearerPattern.FindStringSubmatch(m)
		return parts[1] + maskValue(parts[2])
	})
	s = jwtPattern.ReplaceAllStringFunc(s, func(m string) string {
		return m[:strings.IndexByte(m, '.')] + ".***"
	})
	return paramPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := paramPattern.FindStringSubmatch(m)
		return parts[1] + maskValue(parts[2])
	})
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = Sanitize(entry.Message)
	return s.Core.Write(entry, sanitizeFields(fields))
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	return &SecretSanitizer{Core: s.Core.With(sanitizeFields(fields))}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checked.AddCore(entry, s)
	}
	return checked
}

func sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		switch field.Type {
		case zapcore.StringType:
			field.String = Sanitize(field.String)
		case zapcore.ErrorType:
			if err, ok := field.Interface.(error); ok && err != nil {
				field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: Sanitize(err.Error())}
			}
		}
		out[i] = field
	}
	return out
}

// maskValue keeps the first 3 and last 2 characters of long values.
func maskValue(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
