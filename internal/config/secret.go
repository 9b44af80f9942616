package config

import "gopkg.in/yaml.v3"

// Secret is a string type that redacts itself in every serialization and
// formatting path so a log line or config dump never leaks an API key.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString backs %#v so a Secret inside a struct printed for debugging
// still redacts.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalJSON ensures secrets are redacted when marshaled to JSON.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalYAML ensures secrets are redacted when the config is ever
// round-tripped back to YAML (diagnostics dumps, not the load path).
func (s Secret) MarshalYAML() (interface{}, error) {
	return "[REDACTED]", nil
}

// UnmarshalYAML decodes a plain scalar into a Secret.
func (s *Secret) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}
