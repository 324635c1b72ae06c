// Package ui renders sync reports and command output for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
)

// Logo is printed by `igsync serve`
const Logo = `
 ╔════════════════════════════════════╗
 ║  IGSYNC                            ║
 ║  instagram post acquisition engine ║
 ╚════════════════════════════════════╝
`

// Printer writes styled lines to out
type Printer struct {
	out io.Writer
}

// NewPrinter writes to out, or stdout when out is nil
func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out}
}

// Writer is the underlying output
func (p *Printer) Writer() io.Writer { return p.out }

func (p *Printer) Logo() {
	fmt.Fprint(p.out, labelStyle.Render(Logo))
}

func (p *Printer) Error(msg string, err error) {
	if err != nil {
		msg += ": " + err.Error()
	}
	fmt.Fprintln(p.out, errorStyle.Render(msg))
}

func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.out, successStyle.Render(msg))
}

func (p *Printer) Warning(msg string) {
	fmt.Fprintln(p.out, warningStyle.Render(msg))
}

// Info prints a label/value pair
func (p *Printer) Info(label, value string) {
	fmt.Fprintf(p.out, "%s: %s\n", labelStyle.Render(label), valueStyle.Render(value))
}

// Block prints pre-rendered output
func (p *Printer) Block(s string) {
	fmt.Fprintln(p.out, s)
}
