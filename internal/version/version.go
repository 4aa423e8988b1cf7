// Package version parses and compares module versions and checks them
// against dependency requirements.
//
// Versions are compared structurally (10.0.0 > 9.0.0), never by their
// string form.
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/roach88/modacct/internal/ir"
)

// Parse parses a strict semantic version ("1.2.3", "1.0.0-rc.1").
func Parse(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, ir.NewError(ir.ErrCodeInvalidVersion, fmt.Sprintf("invalid version %q: %v", s, err))
	}
	return v, nil
}

// Validate reports whether s is a concrete, parseable version.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// Compare returns -1, 0 or +1 comparing a and b by semver precedence.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Max returns the highest version in vs by semver precedence.
// Unparseable entries are skipped; ok is false if none parse.
func Max(vs []string) (best string, ok bool) {
	var bestV *semver.Version
	for _, s := range vs {
		v, err := Parse(s)
		if err != nil {
			continue
		}
		if bestV == nil || v.GreaterThan(bestV) {
			bestV, best = v, s
		}
	}
	return best, bestV != nil
}

// Unmet checks v against every comparator of req and returns the first one
// that rejects it. An empty req is always met.
func Unmet(req []string, v string) (comparator string, err error) {
	parsed, err := Parse(v)
	if err != nil {
		return "", err
	}
	for _, raw := range req {
		c, err := ParseComparator(raw)
		if err != nil {
			return "", err
		}
		if !c.Check(parsed) {
			return strings.TrimSpace(raw), nil
		}
	}
	return "", nil
}

// ParseComparator parses a single requirement comparator (">=1.0.0", "<2",
// "^1.2", "~1.4.0", "=1.0.0"). A bare version means "=". Space may separate
// the operator from its version, but two comparators joined by space are
// rejected.
func ParseComparator(raw string) (*semver.Constraints, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.ContainsAny(trimmed, ",|") || joined(trimmed) {
		return nil, ir.NewError(ir.ErrCodeInvalidVersion, fmt.Sprintf("invalid comparator %q: expected a single comparator", raw))
	}
	c, err := semver.NewConstraint(trimmed)
	if err != nil {
		return nil, ir.NewError(ir.ErrCodeInvalidVersion, fmt.Sprintf("invalid comparator %q: %v", raw, err))
	}
	return c, nil
}

func joined(s string) bool {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return false
	case 2:
		return strings.Trim(fields[0], "=<>!~^") != ""
	default:
		return true
	}
}

// ValidateRequirement checks that every comparator of req parses.
func ValidateRequirement(req []string) error {
	for _, raw := range req {
		if _, err := ParseComparator(raw); err != nil {
			return err
		}
	}
	return nil
}

// SplitRequirement splits ">=1.0.0,<2.0.0" into its comparators.
func SplitRequirement(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
