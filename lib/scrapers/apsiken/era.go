package apsiken

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// era name -> offset added to the era year to get the Gregorian year
var eraOffsets = []struct {
	name   string
	offset int
}{
	{"令和", 2018},
	{"平成", 1988},
	{"昭和", 1925},
}

var digitsPattern = regexp.MustCompile(`\d+`)
var gregorianPattern = regexp.MustCompile(`\d{4}`)

// EraToGregorian converts a session label like 令和6年春期 or 平成31年秋期
// to a Gregorian year. Labels carrying a bare 4-digit year pass through.
func EraToGregorian(label string) (int, error) {
	for _, era := range eraOffsets {
		if !strings.Contains(label, era.name) {
			continue
		}
		digits := digitsPattern.FindString(label)
		if digits == "" {
			break
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			break
		}
		return era.offset + n, nil
	}
	if digits := gregorianPattern.FindString(label); digits != "" {
		return strconv.Atoi(digits)
	}
	return 0, fmt.Errorf("unable to parse year from label %q", label)
}
