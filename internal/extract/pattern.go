// Package extract turns free-text vendor command output into normalised
// telemetry fields using ordered, declarative pattern tables.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned (wrapped in *NotFoundError) when no pattern in a set matches.
var ErrNotFound = errors.New("field not found")

// Field names a logical telemetry value.
type Field string

const (
	FieldSerial      Field = "serial"
	FieldMAC         Field = "mac"
	FieldFirmware    Field = "firmware"
	FieldUptime      Field = "uptime"
	FieldTemperature Field = "temperature"
)

// NotFoundError reports which field could not be extracted.
type NotFoundError struct {
	Field Field
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Pattern is one vendor-specific way of finding a field. Source names the
// command whose output the pattern applies to; it is ignored by Extract,
// which is handed the text directly.
type Pattern struct {
	Vendor    string
	Source    string
	Expr      *regexp.Regexp
	Transform func(string) string
}

// PatternSet is tried in order; more specific vendor formats come first.
type PatternSet []Pattern

// Table maps each field to its ordered pattern set.
type Table map[Field]PatternSet

// Match is a successful extraction.
type Match struct {
	Value  string
	Vendor string
}

// apply runs one pattern against text. The first capture group is the value.
func (p Pattern) apply(text string) (string, bool) {
	m := p.Expr.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	if p.Transform != nil {
		v = p.Transform(v)
	}
	if v == "" {
		return "", false
	}
	return v, true
}

// Extract applies set to text in order and returns the first match.
func Extract(text string, field Field, set PatternSet) (Match, error) {
	for _, p := range set {
		if v, ok := p.apply(text); ok {
			return Match{Value: v, Vendor: p.Vendor}, nil
		}
	}
	return Match{}, &NotFoundError{Field: field}
}

// OutputFunc returns the output of a device command.
type OutputFunc func(command string) (string, error)

// Resolve walks set in order, fetching each pattern's Source through out,
// and returns the first match. A command that fails is skipped so the next
// pattern can try a different source; if nothing matches and at least one
// command failed, the last command error is returned alongside NotFound.
func Resolve(field Field, set PatternSet, out OutputFunc) (Match, error) {
	var lastErr error
	for _, p := range set {
		text, err := out(p.Source)
		if err != nil {
			lastErr = err
			continue
		}
		if v, ok := p.apply(text); ok {
			return Match{Value: v, Vendor: p.Vendor}, nil
		}
	}
	nf := &NotFoundError{Field: field}
	if lastErr != nil {
		return Match{}, errors.Join(nf, lastErr)
	}
	return Match{}, nf
}

// Cached wraps out so that each command runs at most once.
func Cached(out OutputFunc) OutputFunc {
	type entry struct {
		text string
		err  error
	}
	seen := make(map[string]entry)
	return func(command string) (string, error) {
		if e, ok := seen[command]; ok {
			return e.text, e.err
		}
		text, err := out(command)
		seen[command] = entry{text: text, err: err}
		return text, err
	}
}

// ValueOr returns m.Value, or fallback when err is non-nil.
func ValueOr(m Match, err error, fallback string) string {
	if err != nil {
		return fallback
	}
	return m.Value
}
