package graph

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Flag is a boolean that tolerates the text encodings found in saved
// programs ("true", "False", "1", "yes", "on"). Anything it cannot read as
// a boolean decodes to false instead of failing the load.
type Flag bool

// ParseFlag normalizes a boolean-encoded string.
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		*f = false
		return nil
	}
	*f = Flag(ParseFlag(value.Value))
	return nil
}
