// Package name normalizes and validates names of ports and states.
package name

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is returned when name doesn't match the grammar.
var ErrInvalid = errors.New("invalid name")

// Trailing digits are split off as identifiers by connection rules and
// joined back on expansion.
var grammar = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9\-]*$`)

var replacer = strings.NewReplacer(" ", "-", "_", "-")

// Normalize replaces spaces and underscores with hyphens.
func Normalize(s string) string {
	return replacer.Replace(strings.TrimSpace(s))
}

// Validate returns normalized name or error if it's not valid.
func Validate(s string) (string, error) {
	n := Normalize(s)
	if !grammar.MatchString(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return n, nil
}
