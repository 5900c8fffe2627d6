// Package referee recovers a referee's name from a rendered match page
// and derives the initial+surname key used by the statistics table.
//
// Extraction is a bounded-window text pattern, not a DOM walk: the
// name must appear within WindowSize characters after a "Referee"
// label, behind a short run of wrapper tags.
package referee

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// WindowSize is the number of characters after the label within which
// the wrapper tags and name must appear.
const WindowSize = 300

// MaxNameLength bounds a captured name in runes. Longer captures mean
// the pattern swallowed page text rather than a name.
const MaxNameLength = 64

// namePattern: the label, then lazily up to WindowSize characters,
// then <span …> <div …> <span …> NAME </span>. NAME is Latin letters
// (accented included), whitespace, apostrophes and hyphens. RE2's \s is
// ASCII only, so the no-break space is listed separately.
var namePattern = regexp.MustCompile(fmt.Sprintf(
	`(?is)Referee.{0,%d}?<span[^>]*>\s*<div[^>]*>\s*<span[^>]*>([\p{Latin}\s\x{00A0}'\-]+)</span>`,
	WindowSize,
))

var labelPattern = regexp.MustCompile(`(?i)Referee`)

// ExtractName returns the referee name following the first "Referee"
// label whose window contains the expected wrapper shape. It reports
// false when the label is missing, the shape is not found within the
// window, or the capture is blank or implausibly long.
func ExtractName(markup string) (string, bool) {
	m := namePattern.FindStringSubmatch(markup)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(strings.ReplaceAll(m[1], "\u00a0", " "))
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return "", false
	}
	return name, true
}

// LabelSnippet returns up to n bytes of markup starting at the first
// "Referee" label, for logging when extraction fails. Empty if the
// label is absent.
func LabelSnippet(markup string, n int) string {
	loc := labelPattern.FindStringIndex(markup)
	if loc == nil {
		return ""
	}
	rest := markup[loc[0]:]
	if len(rest) <= n {
		return rest
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(rest[cut]) {
		cut--
	}
	return rest[:cut]
}

// surnameParticles are lower-case prefixes that belong to the surname
// rather than being middle names ("Van" in "Jean-Paul Van Damme").
var surnameParticles = map[string]bool{
	"van": true, "von": true, "de": true, "der": true, "den": true,
	"da": true, "di": true, "du": true, "del": true, "della": true,
	"le": true, "la": true, "dos": true, "das": true, "ter": true, "ten": true,
}

// NormalizeKey turns a full name into the statistics table key: the
// first letter of the first name, a space, and the surname.
//
//	"Michael Oliver"      → "M Oliver"
//	"Pol"                 → "Pol"
//	"Jean-Paul Van Damme" → "J Van Damme"
//
// The surname is the last whitespace-delimited token plus any surname
// particles directly before it. Hyphens never split. The key is lossy:
// two referees with the same initial and surname map to one row.
//
// Keeping particles differs from a plain last-token rule ("Jan de
// Vries" → "J de Vries", not "J Vries"). Rows in the statistics table
// for such names must be keyed the same way.
func NormalizeKey(name string) string {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return strings.TrimSpace(name)
	}

	start := len(parts) - 1
	for start > 1 && surnameParticles[strings.ToLower(parts[start-1])] {
		start--
	}

	initial, _ := utf8.DecodeRuneInString(parts[0])
	return string(initial) + " " + strings.Join(parts[start:], " ")
}
