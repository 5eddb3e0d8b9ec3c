package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizePropertyName maps an arbitrary field name to an identifier the
// vector index accepts as a property name. The mapping is idempotent.
func SanitizePropertyName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		return "", NewConfigError(raw, ErrInvalidName)
	}

	first, size := utf8.DecodeRuneInString(name)
	if !unicode.IsLetter(first) {
		return "prop_" + name, nil
	}
	return string(unicode.ToLower(first)) + name[size:], nil
}

// MustSanitize is SanitizePropertyName for compile-time constant names.
func MustSanitize(raw string) string {
	name, err := SanitizePropertyName(raw)
	if err != nil {
		panic(err)
	}
	return name
}
