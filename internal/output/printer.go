// Package output writes human-facing status lines for the CLI. The
// authoritative outputs of a run are the JSONL event log and the summary
// JSON; this printer only narrates progress, so it stays plain text.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Printer writes harness status lines to out.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = io.Discard
	}
	return &Printer{out: out}
}

// App writes a top-level status line.
func (p *Printer) App(text string) error {
	if text == "" {
		return nil
	}
	_, err := io.WriteString(p.out, ensureTrailingNewline(text))
	return err
}

// Appf writes a formatted top-level status line.
func (p *Printer) Appf(format string, args ...any) error {
	return p.App(fmt.Sprintf(format, args...))
}

// Detail writes an indented detail line under the preceding status line.
func (p *Printer) Detail(text string) error {
	if text == "" {
		return nil
	}
	_, err := io.WriteString(p.out, "  "+ensureTrailingNewline(text))
	return err
}

// Detailf writes a formatted detail line.
func (p *Printer) Detailf(format string, args ...any) error {
	return p.Detail(fmt.Sprintf(format, args...))
}

func ensureTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
