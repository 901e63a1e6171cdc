package models

import "unicode/utf8"

// MaxErrorMessageLen bounds error messages stored on jobs and runs.
const MaxErrorMessageLen = 2048

// TruncateError returns msg cut to at most MaxErrorMessageLen bytes without
// splitting a UTF-8 sequence.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	cut := MaxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
