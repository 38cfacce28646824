package stats

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ParseValue parses a disclosed number. Thousands separators, whitespace, currency symbols and
// parentheses are stripped; a trailing percent sign divides the result by 100 and sets percent.
// Non-finite results are rejected.
func ParseValue(raw string) (value float64, percent bool, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, false
	}

	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	s = strings.Map(func(r rune) rune {
		switch {
		case r == ',' || r == '(' || r == ')' || r == '_' || r == '\'':
			return -1
		case unicode.IsSpace(r):
			return -1
		case unicode.Is(unicode.Sc, r):
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, false
	}
	if percent {
		v /= 100
	}
	return v, percent, true
}
