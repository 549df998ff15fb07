// Package cli renders audit results for terminal commands.
package cli

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/R3E-Network/draw_auditor/internal/winner"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Printer writes labelled lines, coloured when w is a terminal.
type Printer struct {
	w        io.Writer
	colorize bool
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, colorize: isTerminal(w)}
}

// DisableColor turns colour off.
func (p *Printer) DisableColor() *Printer {
	p.colorize = false
	return p
}

func (p *Printer) color(text, color string) string {
	if !p.colorize {
		return text
	}
	return color + text + ColorReset
}

// Field prints an aligned label and value.
func (p *Printer) Field(label string, value interface{}) {
	fmt.Fprintf(p.w, "  %-18s %v\n", label, value)
}

// Success prints a check-marked line.
func (p *Printer) Success(message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.color("✓", ColorGreen), message)
}

// Fail prints a cross-marked line.
func (p *Printer) Fail(message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.color("✗", ColorRed), message)
}

// Warn prints a warning line.
func (p *Printer) Warn(message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.color("⚠", ColorYellow), message)
}

// Report prints an audit report followed by its verdict.
func (p *Printer) Report(r winner.AuditReport) {
	fmt.Fprintln(p.w, p.color(fmt.Sprintf("Draw %d", r.DrawID), ColorBold))
	p.Field("final randomness", fmt.Sprintf("%x", r.FinalRandomness))
	p.Field("total weight", bigComma(r.TotalWeight))
	p.Field("ticket", bigComma(r.Ticket))
	p.Field("resolved winner", fmt.Sprintf("%s [%s, %s)", r.Winner.Address, bigComma(r.Winner.CumulativeStart), bigComma(r.Winner.CumulativeEnd)))
	p.Field("recorded winner", r.RecordedWinner)
	p.Field("merkle root", fmt.Sprintf("%x", r.MerkleRoot))
	p.Field("inclusion proof", r.InclusionVerified)
	for _, f := range r.Findings {
		p.Warn(f.Code + ": " + f.Detail)
	}
	if r.Verified {
		p.Success("draw verified")
	} else {
		p.Fail("draw FAILED verification")
	}
}

func bigComma(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return humanize.BigComma(v)
}

// Spinner shows activity while a slow call runs.
type Spinner struct {
	frames   []string
	current  int
	prefix   string
	mu       sync.Mutex
	writer   io.Writer
	active   bool
	colorize bool
	started  time.Time
	done     chan struct{}
}

// NewSpinner creates a spinner writing to w. It stays silent unless w is a
// terminal.
func NewSpinner(w io.Writer, prefix string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:   prefix,
		writer:   w,
		colorize: isTerminal(w),
		done:     make(chan struct{}),
	}
}

// Start starts the spinner.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active || !s.colorize {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.started = time.Now()
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.active {
					s.mu.Unlock()
					return
				}
				s.render()
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.done)
	fmt.Fprint(s.writer, "\r"+strings.Repeat(" ", 80)+"\r")
}

func (s *Spinner) render() {
	frame := ColorCyan + s.frames[s.current] + ColorReset
	fmt.Fprintf(s.writer, "\r%s %s (%s)", frame, s.prefix, formatDuration(time.Since(s.started)))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
