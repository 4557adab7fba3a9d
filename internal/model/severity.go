package model

import "strings"

// Severity is the ordered level of an event.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"trace", "debug", "info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < SeverityTrace || s > SeverityCritical {
		return "info"
	}
	return severityNames[s]
}

// MarshalText implements encoding.TextMarshaler so severities serialize as
// their lowercase names in JSON and YAML.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	*s = ParseSeverity(string(text))
	return nil
}

// ParseSeverity converts a name to a Severity. Unknown names default to
// SeverityInfo rather than failing, so a bad caller-supplied level can never
// abort an emission.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return SeverityTrace
	case "debug":
		return SeverityDebug
	case "warn", "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	case "critical", "fatal":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Severities lists all levels in ascending order.
func Severities() []Severity {
	return []Severity{
		SeverityTrace, SeverityDebug, SeverityInfo,
		SeverityWarning, SeverityError, SeverityCritical,
	}
}
