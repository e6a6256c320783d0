package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Key suffixes whose values never reach the log. Matching on suffixes covers
// prefixed forms such as auth_jwt_secret or ledger_signer_keys.
var secretSuffixes = []string{
	"secret",
	"password",
	"token",
	"private_key",
	"signer_keys",
	"authorization",
}

// sensitive reports whether values logged under key are replaced wholesale.
func sensitive(key string) bool {
	normalized := normalizeKey(key)
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// MaskField returns a slog.Attr safe to log. Secret values are replaced and
// connection strings keep only their non-credential parts.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, maskValue(key, value))
}

func maskValue(key, value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	normalized := normalizeKey(key)
	switch {
	case sensitive(normalized):
		return RedactedValue
	case strings.HasSuffix(normalized, "dsn"):
		return maskDSN(value)
	case strings.HasSuffix(normalized, "endpoint"), strings.HasSuffix(normalized, "url"):
		return maskEndpoint(value)
	}
	return value
}

// maskDSN removes passwords from URL style (postgres://user:pw@host/db) and
// keyword style (host=db password=pw) connection strings. Plain sqlite file
// names pass through.
func maskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Opaque == "" {
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), RedactedValue)
			}
		}
		if query := u.Query(); query.Has("password") {
			query.Set("password", RedactedValue)
			u.RawQuery = query.Encode()
		}
		out, err := url.PathUnescape(u.String())
		if err != nil {
			return u.String()
		}
		return out
	}
	if !strings.Contains(dsn, "=") || strings.Contains(dsn, "?") {
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, field := range fields {
		if name, _, ok := strings.Cut(field, "="); ok && strings.EqualFold(name, "password") {
			fields[i] = name + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}

// maskEndpoint keeps only scheme and host of an RPC endpoint. IPC paths
// pass through.
func maskEndpoint(endpoint string) string {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return RedactedValue
	}
	if u.Host == "" {
		return endpoint
	}
	if u.Path == "" && u.RawQuery == "" && u.User == nil {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/" + RedactedValue
}

// redactAttr applies MaskField to every string attribute leaving the handler.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	value := attr.Value.String()
	if masked := maskValue(attr.Key, value); masked != value {
		return slog.String(attr.Key, masked)
	}
	return attr
}

func normalizeKey(key string) string {
	normalized := strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("-", "_", ".", "_").Replace(normalized)
}
