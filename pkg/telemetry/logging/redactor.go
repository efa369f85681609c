package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"monay-hq/authz/pkg/config"
)

// Built-in pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternCardNumber  = "card_number"
	PatternIBAN        = "iban"
	PatternEmail       = "email"
	PatternPassword    = "password"
)

// Redactor masks payment and personal data in log attributes.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	name    string
	regex   *regexp.Regexp
	replace func(string) string
}

var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "authorization",
	"api_key", "apikey", "private_key", "passphrase",
	"card_number", "pan", "cvv", "iban", "account_number",
}

// NewRedactor creates a redactor with the built-in patterns followed by
// custom ones. Custom patterns that do not compile are skipped; config
// validation rejects them before this point.
func NewRedactor(custom []config.RedactPattern) *Redactor {
	r := &Redactor{patterns: []redactPattern{
		{
			name:    PatternBearerToken,
			regex:   regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
			replace: func(string) string { return "Bearer ***" },
		},
		{
			name:    PatternCardNumber,
			regex:   regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
			replace: maskCardNumber,
		},
		{
			name:    PatternIBAN,
			regex:   regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
			replace: func(s string) string { return s[:4] + "****" },
		},
		{
			name:    PatternEmail,
			regex:   regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
			replace: maskEmail,
		},
		{
			name:    PatternPassword,
			regex:   regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*\S+`),
			replace: func(s string) string { return s[:strings.IndexAny(s, ":=")+1] + " ***" },
		},
	}}

	for _, p := range custom {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		replacement := p.Replacement
		r.patterns = append(r.patterns, redactPattern{
			name:    p.Name,
			regex:   re,
			replace: func(s string) string { return re.ReplaceAllString(s, replacement) },
		})
	}
	return r
}

// RedactString masks every pattern match in s.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllStringFunc(s, p.replace)
	}
	return s
}

// RedactAttr masks an attribute. Values under a sensitive key are replaced
// entirely; other string values are pattern matched. Groups are walked.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	switch v.Kind() {
	case slog.KindGroup:
		attrs := v.Group()
		out := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindString:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, maskSecret(v.String()))
		}
		return slog.String(a.Key, r.RedactString(v.String()))
	default:
		if isSensitiveKey(a.Key) && v.Kind() != slog.KindBool {
			return slog.String(a.Key, "***")
		}
		return slog.Attr{Key: a.Key, Value: v}
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if lower == k || strings.HasSuffix(lower, "_"+k) || strings.HasPrefix(lower, k+"_") {
			return true
		}
	}
	return false
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// maskCardNumber keeps the last four digits of a card number.
func maskCardNumber(s string) string {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) < 13 {
		return s
	}
	return "****-****-****-" + string(digits[len(digits)-4:])
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return "***" + s[at:]
	}
	return s[:1] + "***" + s[at:]
}
