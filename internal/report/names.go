package report

import (
	"strings"
	"unicode"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// ParseWECName splits a WEC driver cell such as "Sébastien BUEMI" or
// "Jose Maria LOPEZ". Tokens written entirely in capitals form the surname,
// the rest form the first name, each keeping their original order.
func ParseWECName(full string) timing.DriverName {
	var first, last []string
	for _, part := range strings.Fields(full) {
		if isUpperToken(part) {
			last = append(last, part)
		} else {
			first = append(first, part)
		}
	}
	return timing.DriverName{
		FirstName: strings.Join(first, " "),
		LastName:  strings.Join(last, " "),
	}
}

// isUpperToken reports whether s has no lowercase letters. Tokens without
// letters (such as "-") count as upper case.
func isUpperToken(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
	}
	return true
}

// SplitName builds a name from separate first and last name cells.
func SplitName(first, last string) timing.DriverName {
	return timing.DriverName{
		FirstName: strings.Join(strings.Fields(first), " "),
		LastName:  strings.Join(strings.Fields(last), " "),
	}
}
