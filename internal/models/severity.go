package models

import (
	"fmt"
	"strings"
)

// Severity classifies rules and alerts by urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the numeric priority of the severity, higher is more urgent.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Valid reports whether s is one of the four recognized severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

func (s Severity) String() string {
	return string(s)
}

// ParseSeverity normalizes and validates a severity string.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}
