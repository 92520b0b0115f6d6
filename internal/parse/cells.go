package parse

import (
	"math"
	"regexp"
	"strconv"

	"github.com/rescale/csvup/internal/models"
)

// floatPattern matches the numeric literals converted by dynamic typing.
var floatPattern = regexp.MustCompile(`^\s*-?(\d+\.?|\.\d+|\d+\.\d+)([eE][-+]?\d+)?\s*$`)

// Largest integer a float64 holds exactly; larger values stay strings so
// identifiers are not silently rounded.
const maxExactInt = 1<<53 - 1

// TypeCell converts a raw field: "true"/"TRUE" and "false"/"FALSE" become
// bools, numeric literals become float64, an empty field becomes nil and
// anything else stays a string.
func TypeCell(raw string) models.Cell {
	switch raw {
	case "":
		return nil
	case "true", "TRUE":
		return true
	case "false", "FALSE":
		return false
	}
	if floatPattern.MatchString(raw) {
		v, err := strconv.ParseFloat(trimASCIISpace(raw), 64)
		if err == nil && math.Abs(v) <= maxExactInt {
			return v
		}
	}
	return raw
}

// TypeRow applies TypeCell to every field of record.
func TypeRow(record []string) models.Row {
	row := make(models.Row, len(record))
	for i, f := range record {
		row[i] = TypeCell(f)
	}
	return row
}

// StringRow keeps every field as a string.
func StringRow(record []string) models.Row {
	row := make(models.Row, len(record))
	for i, f := range record {
		row[i] = f
	}
	return row
}

func trimASCIISpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
