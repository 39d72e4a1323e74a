package dev

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

var (
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4B5563"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	urlStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// console writes the timestamped lines a developer watches.
type console struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	color  bool
	now    func() time.Time
}

func newConsole(out, errOut io.Writer) *console {
	return &console{
		out:    out,
		errOut: errOut,
		color:  ColorEnabled(out),
		now:    time.Now,
	}
}

// ColorEnabled reports whether output written to w may carry ANSI colour:
// w is a terminal and NO_COLOR is not set.
func ColorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *console) style(s lipgloss.Style, text string) string {
	if !c.color {
		return text
	}
	return s.Render(text)
}

func (c *console) log(format string, args ...any) {
	c.line(c.out, fmt.Sprintf(format, args...))
}

func (c *console) logError(format string, args ...any) {
	c.line(c.errOut, c.style(errorStyle, fmt.Sprintf(format, args...)))
}

// reportError prints a reload error with the failing module.
func (c *console) reportError(what string, err error) {
	msg := err.Error()
	var he *errors.HotrunError
	if stderrors.As(err, &he) {
		msg = he.FormatCompact()
	}
	c.logError("%s: %s", what, msg)
}

func (c *console) line(w io.Writer, msg string) {
	ts := c.style(timeStyle, "["+c.now().Format("15:04:05")+"]")
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, "%s %s\n", ts, msg)
}

// launched reports a server that became active. kind is "Launch" or
// "Reload".
func (c *console) launched(url, kind string, d time.Duration) {
	c.log("Server launched on %s. %s time: %s", c.style(urlStyle, url), kind, formatSeconds(d))
}

func (c *console) hints() {
	c.log("%s",
		c.style(mutedStyle, "press ")+c.style(keyStyle, "r")+c.style(mutedStyle, " to reload, ")+
			c.style(keyStyle, "o")+c.style(mutedStyle, " to open in the browser, ")+
			c.style(keyStyle, "q")+c.style(mutedStyle, " to quit"))
}

// formatSeconds renders d truncated to tenths of a second, as in "0.4s".
func formatSeconds(d time.Duration) string {
	tenths := d.Milliseconds() / 100
	return fmt.Sprintf("%d.%ds", tenths/10, tenths%10)
}
