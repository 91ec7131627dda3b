package emitter

import (
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// controlChars matches the C0 control characters the intake API rejects.
// Tab, newline and carriage return are left alone since the JSON encoder
// already escapes them.
var controlChars = runes.Predicate(func(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r < 0x20 || r == 0x7f
})

var stripControl = runes.Remove(controlChars)

// Sanitize removes raw control characters from a serialized payload.
func Sanitize(body []byte) []byte {
	out, _, err := transform.Bytes(stripControl, body)
	if err != nil {
		return body
	}
	return out
}
