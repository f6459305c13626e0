// Package ui prints progress and failure lines for people at a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Printer writes one line per message; warnings and errors are coloured
// when colour is enabled
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	info  *color.Color
	warn  *color.Color
	fatal *color.Color
}

func NewPrinter(out io.Writer, colorize bool) *Printer {
	p := &Printer{
		out:   out,
		info:  color.New(color.Reset),
		warn:  color.New(color.FgYellow),
		fatal: color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{p.info, p.warn, p.fatal} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) Info(format string, args ...any)  { p.line(p.info, format, args...) }
func (p *Printer) Warn(format string, args ...any)  { p.line(p.warn, format, args...) }
func (p *Printer) Error(format string, args ...any) { p.line(p.fatal, format, args...) }

func (p *Printer) line(c *color.Color, format string, args ...any) {
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = c.Fprintln(p.out, msg)
}
