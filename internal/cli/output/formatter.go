// Package output provides unified output formatting for CLI commands.
// It supports multiple output formats (table, JSON, YAML) and structured errors.
package output

import (
	"fmt"
	"os"
	"strings"
)

// EnvOutputFormat selects the default output format.
const EnvOutputFormat = "MCPGATE_OUTPUT"

// Formatter formats structured data for CLI output.
// Implementations are stateless and thread-safe.
type Formatter interface {
	// Format renders data. Tabular values render as tables in table format
	// and as their Records in json and yaml.
	Format(data any) (string, error)

	// FormatError renders a structured error.
	FormatError(err StructuredError) (string, error)
}

// Tabular is implemented by values that render as a table.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}

// Table is a ready-made Tabular.
type Table struct {
	Columns []string
	Data    [][]string
}

// Headers implements Tabular.
func (t Table) Headers() []string { return t.Columns }

// Rows implements Tabular.
func (t Table) Rows() [][]string { return t.Data }

// NewFormatter creates a formatter for format: table, json or yaml
// (case-insensitive). Empty means table.
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{
			NoColor: os.Getenv("NO_COLOR") != "",
		}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: table, json, yaml)", format)
	}
}

// ResolveFormat determines the output format.
// Priority: --json > --output > MCPGATE_OUTPUT > table.
func ResolveFormat(outputFlag string, jsonFlag bool) string {
	if jsonFlag {
		return "json"
	}
	if outputFlag != "" {
		return outputFlag
	}
	if env := os.Getenv(EnvOutputFormat); env != "" {
		return env
	}
	return "table"
}

// records turns tabular data into one map per row keyed by header.
func records(t Tabular) []map[string]string {
	headers := t.Headers()
	rows := t.Rows()
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}
