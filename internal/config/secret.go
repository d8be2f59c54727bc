package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// hintLen is how many trailing characters Hint keeps. Keys shorter than
// twice this are never hinted.
const hintLen = 4

// Secret holds a venue key or webhook credential. Every printing path
// (fmt, JSON, YAML) renders it as [REDACTED]; only Reveal hands out the value.
type Secret string

// IsSet reports whether the secret carries anything beyond whitespace.
func (s Secret) IsSet() bool {
	return strings.TrimSpace(string(s)) != ""
}

// Reveal returns the raw value for a venue or alert client.
func (s Secret) Reveal() string {
	return string(s)
}

// Hint identifies which key is loaded in startup logs without exposing it,
// e.g. "...9f3a". Short values get the bare redaction marker.
func (s Secret) Hint() string {
	if !s.IsSet() {
		return ""
	}
	if len(s) < 2*hintLen {
		return redacted
	}
	return "..." + string(s[len(s)-hintLen:])
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return `"` + s.String() + `"`
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML trims surrounding whitespace so a pasted key with a
// trailing newline still signs.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = Secret(strings.TrimSpace(raw))
	return nil
}
