// Package normalize canonicalizes loosely formatted registration metadata
// typed by students into the intake form.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// MinYear and MaxYear bound the year of study.
	MinYear = 1
	MaxYear = 5
	// DefaultYear is returned for anything unparsable or out of range.
	DefaultYear = 1
	// DefaultSection is returned when no section letter can be found.
	DefaultSection = "A"
)

var (
	ordinalRe    = regexp.MustCompile(`^(\d+)\s*(st|nd|rd|th)?$`)
	firstDigitRe = regexp.MustCompile(`\d+`)
	sectionRe    = regexp.MustCompile(`\b([A-D])\b`)

	romanYears = map[string]int{"i": 1, "ii": 2, "iii": 3, "iv": 4, "v": 5}
	wordYears  = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	}
)

// Year maps free-form year-of-study text to 1..5. It is total: input it cannot
// read, or a number outside the range, yields DefaultYear.
//
//	"3", "3rd", "3RD year"  -> 3
//	"II", "II semester"     -> 2
//	"second", "Second Year" -> 2
func Year(raw string) int {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return DefaultYear
	}
	if m := ordinalRe.FindStringSubmatch(s); m != nil {
		return yearInRange(m[1])
	}
	if n, ok := romanYears[s]; ok {
		return n
	}
	if n, ok := wordYears[s]; ok {
		return n
	}
	if d := firstDigitRe.FindString(s); d != "" {
		return yearInRange(d)
	}
	for _, tok := range strings.FieldsFunc(s, notAlnum) {
		if n, ok := romanYears[tok]; ok {
			return n
		}
		if n, ok := wordYears[tok]; ok {
			return n
		}
	}
	return DefaultYear
}

// Section maps free-form section text to one of A..D, defaulting to "A".
//
//	"b"     -> "B"
//	"CSM B" -> "B"
//	"Z"     -> "A"
func Section(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "A", "B", "C", "D":
		return s
	}
	if m := sectionRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return DefaultSection
}

func yearInRange(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil || n < MinYear || n > MaxYear {
		return DefaultYear
	}
	return n
}

func notAlnum(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
}
