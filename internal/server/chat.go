package server

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxChatLen caps a single chat message after scrubbing.
const maxChatLen = 256

// SanitizeChat normalizes an inbound chat message for broadcast: control
// characters are stripped, whitespace collapsed, and length capped. Returns
// false when nothing displayable remains or the input is not valid UTF-8.
func SanitizeChat(msg string) (string, bool) {
	if !utf8.ValidString(msg) {
		return "", false
	}

	var b strings.Builder
	space := false
	for _, r := range msg {
		switch {
		case unicode.IsControl(r):
			// Newlines and tabs collapse to a space like any run of
			// whitespace; everything else is dropped.
			if r == '\n' || r == '\t' || r == '\r' {
				space = b.Len() > 0
			}
		case unicode.IsSpace(r):
			space = b.Len() > 0
		default:
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" {
		return "", false
	}
	if len(out) > maxChatLen {
		cut := out[:maxChatLen]
		// Do not split a multi-byte rune at the cap.
		for len(cut) > 0 && !utf8.ValidString(cut) {
			cut = cut[:len(cut)-1]
		}
		out = cut
	}
	return out, true
}
