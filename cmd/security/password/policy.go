package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks the secret against the policy. Length is counted in runes.
func (c Config) Validate(secret string) error {
	n := utf8.RuneCountInString(secret)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && veryWeak(secret):
		return ErrWeakPassword
	}
	return nil
}

var commonSecrets = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
	"twootr":      {},
	"letmein":     {},
}

// veryWeak is a small deny-list, not a strength estimator.
func veryWeak(secret string) bool {
	s := strings.TrimSpace(secret)
	if s == "" {
		return true
	}
	if _, ok := commonSecrets[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 &&
		utf8.RuneCountInString(s) < 12
}
