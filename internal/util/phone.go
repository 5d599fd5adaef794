package util

import (
	"regexp"
	"strings"
)

var (
	nonDigit   = regexp.MustCompile(`\D+`)
	phoneQuery = regexp.MustCompile(`^[\d+\-\s().]+$`)
)

// PhoneSeparators are the characters people type between digit groups.
var PhoneSeparators = []string{" ", "-", "+", "(", ")", "."}

// PhoneDigits strips everything but digits, so "077 123-4567" and
// "0771234567" compare equal.
func PhoneDigits(raw string) string {
	return nonDigit.ReplaceAllString(raw, "")
}

// PhoneSearch reports the digits to match when q reads like (part of) a phone
// number. Queries with letters are not phone searches.
func PhoneSearch(q string) (string, bool) {
	q = strings.TrimSpace(q)
	if !phoneQuery.MatchString(q) {
		return "", false
	}
	d := PhoneDigits(q)
	return d, d != ""
}
