package output

import (
	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// Format marshals data to YAML. Tabular data becomes a list of mappings.
func (f *YAMLFormatter) Format(data any) (string, error) {
	if t, ok := data.(Tabular); ok {
		data = records(t)
	}
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FormatError marshals a structured error to YAML.
func (f *YAMLFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(map[string]any{"error": err})
}
