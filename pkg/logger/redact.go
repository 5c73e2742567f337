package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeySuffixes matches query keys such as token, refresh_token or recovery_code.
var sensitiveKeySuffixes = []string{"token", "password", "secret", "code", "key", "email"}

// MaskEmail keeps the first character of the local part and the top-level
// domain: "alice@example.com" becomes "a****@*******.com".
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	var b strings.Builder
	b.Grow(len(email))
	b.WriteString(local[:1])
	b.WriteString(strings.Repeat("*", len(local)-1))
	b.WriteByte('@')

	if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
		for _, label := range strings.Split(domain[:dot], ".") {
			b.WriteString(strings.Repeat("*", len(label)))
			b.WriteByte('.')
		}
		b.WriteString(domain[dot+1:])
	} else {
		b.WriteString(domain)
	}
	return b.String()
}

// EmailAttr logs an address masked everywhere except development
func EmailAttr(email, env string) slog.Attr {
	if env == "development" {
		return slog.String("email", email)
	}
	return slog.String("email", MaskEmail(email))
}

// RedactQuery replaces the values of sensitive parameters and keeps the rest in
// their original order. A query that cannot be parsed is redacted whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		rawKey, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return redacted
		}
		if isSensitiveKey(key) {
			pairs[i] = rawKey + "=" + redacted
		}
	}
	return strings.Join(pairs, "&")
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, suffix := range sensitiveKeySuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}
