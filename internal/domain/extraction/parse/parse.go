// Package parse extracts numbers, strings and dates from the loosely-structured
// JSON trees returned by the extraction service.
// Every accessor is tolerant of missing fields and never fails on bad data.
package parse

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDate = errors.New("invalid date format")
)

// Layouts accepted for dates coming from the extraction service.
const (
	ISODate      = "2006-01-02"
	SlashDate    = "02/01/2006"
	DashDMYDate  = "02-01-2006"
	fenceJSON    = "```json"
	fencePlain   = "```"
	decimalComma = ","
)

// entryDateFormats is the per-record chain, tried in order.
var entryDateFormats = []string{
	SlashDate,
	ISODate,
	DashDMYDate,
}

// strictDateFormats is used when decoding request payloads.
var strictDateFormats = []string{
	ISODate,
	SlashDate,
}

// Field returns the raw value stored under field when node is an object.
func Field(node any, field string) (any, bool) {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Float returns the numeric value of node[field], or 0 when the field is
// absent, null, empty or unparsable. Comma decimal separators are accepted.
func Float(node any, field string) float64 {
	v, ok := Field(node, field)
	if !ok {
		return 0
	}
	return ToFloat(v)
}

// ToFloat converts a scalar JSON value into a float64 using the same rules as Float.
func ToFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		return FloatString(n.String())
	case string:
		return FloatString(n)
	default:
		return 0
	}
}

// FloatString parses a textual amount like "100,50" or " 12.3 ".
func FloatString(raw string) float64 {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return 0
	}
	cleaned = strings.ReplaceAll(cleaned, decimalComma, ".")
	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return finite(val)
}

// finite maps NaN and infinities to 0; ParseFloat accepts "NaN" and "Inf".
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// String returns node[field] trimmed, or def when the field is absent, null
// or blank.
func String(node any, field, def string) string {
	v, ok := Field(node, field)
	if !ok {
		return def
	}

	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	default:
		return def
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// FirstString returns the first non-blank value among fields.
func FirstString(node any, def string, fields ...string) string {
	for _, f := range fields {
		if s := String(node, f, ""); s != "" {
			return s
		}
	}
	return def
}

// Bool reports whether node[field] is a JSON true (or the string "true").
func Bool(node any, field string) bool {
	v, ok := Field(node, field)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	default:
		return false
	}
}

// Array returns node[field] when it is a JSON array.
func Array(node any, field string) ([]any, bool) {
	v, ok := Field(node, field)
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// DateOr parses raw as ISO or dd/MM/yyyy and returns fallback when neither matches.
func DateOr(raw string, fallback time.Time) time.Time {
	t, err := StrictDate(raw)
	if err != nil {
		return fallback
	}
	return t
}

// LenientDate is DateOr with the current time as fallback.
func LenientDate(raw string) time.Time {
	return DateOr(raw, time.Now())
}

// EntryDate parses a per-record date, trying dd/MM/yyyy, yyyy-MM-dd and
// dd-MM-yyyy in that order.
func EntryDate(raw string) (time.Time, error) {
	return parseWith(raw, entryDateFormats)
}

// StrictDate accepts only ISO and dd/MM/yyyy dates.
func StrictDate(raw string) (time.Time, error) {
	return parseWith(raw, strictDateFormats)
}

func parseWith(raw string, layouts []string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// StripCodeFence removes one leading ```json (or ```) fence and one trailing
// ``` fence from text, trimming whitespace at each step.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(s, fenceJSON):
		s = strings.TrimSpace(strings.TrimPrefix(s, fenceJSON))
	case strings.HasPrefix(s, fencePlain):
		s = strings.TrimSpace(strings.TrimPrefix(s, fencePlain))
	}
	if strings.HasSuffix(s, fencePlain) {
		s = strings.TrimSpace(strings.TrimSuffix(s, fencePlain))
	}
	return s
}

var spacePattern = regexp.MustCompile(`\s+`)

// CleanLabel normalizes an entry label
func CleanLabel(raw string) string {
	return spacePattern.ReplaceAllString(strings.TrimSpace(raw), " ")
}
