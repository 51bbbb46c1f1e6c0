// Package output provides user-facing console output for the quartet CLI.
// It is separate from logging: logs go to zap, human-readable progress
// goes through a Printer.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Printer handles colored console output
type Printer struct {
	out io.Writer
	err io.Writer

	success *color.Color
	failure *color.Color
	warning *color.Color
	info    *color.Color
	step    *color.Color
	detail  *color.Color
}

// NewPrinter creates a printer writing to stdout/stderr. Color is
// suppressed when noColor is set or when NO_COLOR is present in the
// environment.
func NewPrinter(noColor bool) *Printer {
	p := newPrinter(os.Stdout, os.Stderr)
	if noColor || os.Getenv("NO_COLOR") != "" {
		p.disableColor()
	}
	return p
}

// NewPrinterWithWriters creates a printer with custom writers (for testing)
func NewPrinterWithWriters(out, err io.Writer, useColor bool) *Printer {
	p := newPrinter(out, err)
	if !useColor {
		p.disableColor()
	}
	return p
}

func newPrinter(out, err io.Writer) *Printer {
	return &Printer{
		out:     out,
		err:     err,
		success: color.New(color.FgGreen, color.Bold),
		failure: color.New(color.FgRed, color.Bold),
		warning: color.New(color.FgYellow, color.Bold),
		info:    color.New(color.FgCyan, color.Bold),
		step:    color.New(color.FgBlue, color.Bold),
		detail:  color.New(color.FgHiBlack),
	}
}

func (p *Printer) disableColor() {
	for _, c := range []*color.Color{p.success, p.failure, p.warning, p.info, p.step, p.detail} {
		c.DisableColor()
	}
}

// Success prints a success message in green
func (p *Printer) Success(format string, args ...interface{}) {
	_, _ = p.success.Fprintf(p.out, "✓ "+format+"\n", args...)
}

// Error prints an error message in red
func (p *Printer) Error(format string, args ...interface{}) {
	_, _ = p.failure.Fprintf(p.err, "✗ "+format+"\n", args...)
}

// Warning prints a warning message in yellow
func (p *Printer) Warning(format string, args ...interface{}) {
	_, _ = p.warning.Fprintf(p.err, "⚠ "+format+"\n", args...)
}

// Info prints an info message in cyan
func (p *Printer) Info(format string, args ...interface{}) {
	_, _ = p.info.Fprintf(p.out, "→ "+format+"\n", args...)
}

// Step prints a step message in blue
func (p *Printer) Step(format string, args ...interface{}) {
	_, _ = p.step.Fprintf(p.out, "▶ "+format+"\n", args...)
}

// Detail prints an indented detail message in gray
func (p *Printer) Detail(format string, args ...interface{}) {
	_, _ = p.detail.Fprintf(p.out, "  "+format+"\n", args...)
}

// Print prints a plain message without decoration
func (p *Printer) Print(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Println prints a plain message with newline
func (p *Printer) Println(args ...interface{}) {
	_, _ = fmt.Fprintln(p.out, args...)
}

// AgentStatus prints one agent outcome line, colored by status
func (p *Printer) AgentStatus(agent, status, summary string) {
	switch status {
	case "succeeded":
		p.Success("%s: %s", agent, summary)
	case "failed":
		p.Error("%s: %s", agent, summary)
	default:
		p.Warning("%s [%s]: %s", agent, status, summary)
	}
}
