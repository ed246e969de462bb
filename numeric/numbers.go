// Package numeric pulls numbers out of free text such as OCR output and
// price labels.
package numeric

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern = regexp.MustCompile(`\d+[.\d]*\d*`)
	digitPattern  = regexp.MustCompile(`\d`)
)

// NumbersFromString returns every number in s, in order, after removing
// thousands-separator commas. Tokens that do not parse as a float are skipped.
func NumbersFromString(s string) []float64 {
	tokens := numberPattern.FindAllString(strings.ReplaceAll(s, ",", ""), -1)

	numbers := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		if !digitPattern.MatchString(tok) {
			continue
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		numbers = append(numbers, f)
	}
	return numbers
}

// FirstNumber returns the first number in s.
func FirstNumber(s string) (float64, bool) {
	numbers := NumbersFromString(s)
	if len(numbers) == 0 {
		return 0, false
	}
	return numbers[0], true
}
