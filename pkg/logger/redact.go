package logger

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var secretPattern = regexp.MustCompile(`(?i)(key|token|secret)[=:]\s*[a-zA-Z0-9\-_.]+`)

// MaskEndpoint keeps the host of an endpoint and replaces the rest with a
// short hash, so configured provider URLs can be logged.
func MaskEndpoint(raw string) string {
	if raw == "" {
		return ""
	}
	h := shortHash(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "endpoint#" + h
	}
	return fmt.Sprintf("%s#%s", u.Host, h)
}

// MaskSecret reports only whether a secret is set.
func MaskSecret(secret string) string {
	if secret == "" {
		return "unset"
	}
	return "***"
}

// Redact masks well-known sensitive keys in a field map.
func Redact(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		lower := strings.ToLower(k)
		s, isString := v.(string)
		switch {
		case !isString:
			out[k] = v
		case strings.Contains(lower, "key") || strings.Contains(lower, "token") || strings.Contains(lower, "secret"):
			out[k] = MaskSecret(s)
		case strings.Contains(lower, "endpoint") || strings.Contains(lower, "url"):
			out[k] = MaskEndpoint(s)
		default:
			out[k] = secretPattern.ReplaceAllString(s, "${1}=***")
		}
	}
	return out
}

// SafeInfo logs msg with Redact applied to fields.
func (l *Logger) SafeInfo(msg string, fields map[string]interface{}) {
	l.WithFields(Redact(fields)).Info(msg)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:4])
}
