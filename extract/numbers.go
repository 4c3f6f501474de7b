package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// numberToken is the first digit run, allowing grouping spaces
	// (including NBSP and narrow NBSP) and either separator.
	numberToken  = regexp.MustCompile(`\d[\d\s\x{00a0}\x{202f}.,]*`)
	integerToken = regexp.MustCompile(`\d[\d\x{00a0}\x{202f} ]*`)
)

// ParseLocaleNumber parses the first number in s written in Polish or
// English notation: "1 234 567 zł", "54,5 m²", "1.234,50", "1,234.50".
// ok is false when s holds no number.
func ParseLocaleNumber(s string) (float64, bool) {
	token := numberToken.FindString(s)
	if token == "" {
		return 0, false
	}

	var b strings.Builder
	for _, r := range token {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimRight(b.String(), ".,")
	if cleaned == "" {
		return 0, false
	}

	normalized := normalizeSeparators(cleaned)
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// normalizeSeparators rewrites s so that '.' is the only, decimal,
// separator.
func normalizeSeparators(s string) string {
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	switch {
	case commas > 0 && dots > 0:
		// The separator that comes last is the decimal one.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case commas == 1:
		return strings.Replace(s, ",", ".", 1)
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	case dots == 1:
		// "450.000" is grouping; "54.5" is a decimal.
		if len(s)-strings.Index(s, ".")-1 == 3 && !strings.HasPrefix(s, "0.") {
			return strings.Replace(s, ".", "", 1)
		}
	}
	return s
}

// ParseReportedCount returns the first integer in s, or 0.
func ParseReportedCount(s string) int {
	token := integerToken.FindString(s)
	if token == "" {
		return 0
	}
	var b strings.Builder
	for _, r := range token {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}
