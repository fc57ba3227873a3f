package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxUserIDLen is the longest accepted user id in bytes.
const MaxUserIDLen = 64

// NormalizeUserID trims surrounding whitespace. User ids are otherwise
// opaque and case-sensitive.
func NormalizeUserID(s string) string {
	return strings.TrimSpace(s)
}

// ValidateUserID accepts 1..MaxUserIDLen bytes of valid UTF-8 without
// whitespace or control characters.
func ValidateUserID(id string) error {
	const op = "identity.ValidateUserID"

	switch {
	case id == "":
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	case len(id) > MaxUserIDLen:
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "user id too long"}
	case !utf8.ValidString(id):
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "user id is not valid utf-8"}
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "user id contains whitespace or control characters"}
	}
	return nil
}
