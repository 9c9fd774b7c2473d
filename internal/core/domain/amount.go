package domain

import (
	"strconv"
	"strings"
)

// ParseAmount reads amounts the way French documents write them:
// "30 000,50", "30.000,50", "30000.50", with an optional currency
// marker glued on.
func ParseAmount(value string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			return r
		case r == ' ', r == ' ', r == ' ':
			return -1
		default:
			return -1
		}
	}, value)
	if cleaned == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma > lastDot:
		// Comma is the decimal separator, dots are thousands.
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case lastDot > lastComma:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		// Several dots means they are thousands separators.
		if strings.Count(cleaned, ".") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}
