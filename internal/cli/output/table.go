package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

// TableFormatter formats output as a human-readable table.
type TableFormatter struct {
	NoColor bool // Disable ANSI colors
	// Condensed forces the plain layout used when stdout is not a terminal.
	Condensed bool
}

// Format renders Tabular data as a table. Anything else is shown as
// indented JSON.
func (f *TableFormatter) Format(data any) (string, error) {
	t, ok := data.(Tabular)
	if !ok {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil
	}
	return f.FormatTable(t.Headers(), t.Rows()), nil
}

// FormatTable renders rows under headers.
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return "No results found\n"
	}

	t := table.NewWriter()
	if f.plain() {
		t.SetStyle(plainStyle())
	} else {
		t.SetStyle(table.StyleRounded)
		if !f.NoColor {
			t.Style().Color.Header = text.Colors{text.FgHiCyan, text.Bold}
		}
	}

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	t.AppendHeader(header)
	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = v
		}
		t.AppendRow(row)
	}
	return t.Render() + "\n"
}

// FormatError renders an error in human-readable format.
func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var b strings.Builder
	label := "Error"
	if !f.plain() && !f.NoColor {
		label = text.FgRed.Sprint("Error")
	}
	fmt.Fprintf(&b, "%s: %s\n", label, err.Message)
	if err.Guidance != "" {
		fmt.Fprintf(&b, "  Guidance: %s\n", err.Guidance)
	}
	if err.RecoveryCommand != "" {
		fmt.Fprintf(&b, "  Try: %s\n", err.RecoveryCommand)
	}
	return b.String(), nil
}

func (f *TableFormatter) plain() bool {
	return f.Condensed || !isTTY()
}

// plainStyle is a borderless, uncolored layout for pipes and scripts.
func plainStyle() table.Style {
	s := table.StyleDefault
	s.Options = table.OptionsNoBordersAndSeparators
	s.Format.Header = text.FormatUpper
	return s
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
