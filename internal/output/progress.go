// Package output provides terminal progress and table rendering for the
// appmirror commands.
package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if the given writer exposes an Fd() method
// (e.g. *os.File) and that fd is a terminal. Falls back to false for
// plain io.Writer values such as *bytes.Buffer.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// Counter displays running progress for loops whose total may be unknown,
// e.g. "jira: 350 apps" or "downloading: 12/480". Safe for concurrent
// worker pools.
type Counter struct {
	label   string
	total   int // 0 means unknown
	current int
	unit    string
	mu      sync.Mutex
	writer  io.Writer
}

// NewCounter creates a counter. total of 0 renders without a denominator.
func NewCounter(label string, total int, unit string) *Counter {
	return &Counter{
		label:  label,
		total:  total,
		unit:   unit,
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer (useful for testing).
func (c *Counter) SetWriter(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer = w
}

// SetLabel changes the label, e.g. when discovery moves to the next product.
func (c *Counter) SetLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.label = label
	c.render()
}

// Increment advances the counter by 1 and redraws.
func (c *Counter) Increment() {
	c.Set(-1)
}

// Set moves the counter to n (or by +1 when n is negative) and redraws.
func (c *Counter) Set(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 {
		c.current++
	} else {
		c.current = n
	}
	c.render()
}

// Finish prints the final count on its own line.
func (c *Counter) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if writerIsTTY(c.writer) {
		c.render()
		fmt.Fprintln(c.writer)
	} else {
		fmt.Fprintf(c.writer, "%s\n", c.line())
	}
}

// render draws the counter (must be called with lock held). On a TTY the
// line is overwritten in place; otherwise intermediate updates stay silent
// so piped output is not flooded.
func (c *Counter) render() {
	if writerIsTTY(c.writer) {
		fmt.Fprintf(c.writer, "\r%s", c.line())
	}
}

func (c *Counter) line() string {
	if c.total > 0 {
		return fmt.Sprintf("%s: %d/%d %s", c.label, c.current, c.total, c.unit)
	}
	return fmt.Sprintf("%s: %d %s", c.label, c.current, c.unit)
}

// Spinner displays an animated spinner while a long call is in flight.
// On a non-TTY writer the message is printed once instead of animating.
type Spinner struct {
	message string
	chars   []string
	running bool
	mu      sync.Mutex
	writer  io.Writer
	done    chan struct{}
}

// NewSpinner creates a spinner with a message.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		chars:   []string{"|", "/", "-", "\\"},
		writer:  os.Stdout,
		done:    make(chan struct{}),
	}
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	w := s.writer
	s.mu.Unlock()

	if !writerIsTTY(w) {
		fmt.Fprintf(w, "%s\n", s.message)
		return
	}

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.writer, "\r%s  %s", s.chars[i%len(s.chars)], s.message)
				s.mu.Unlock()
				i++
			}
		}
	}()
}

// Stop ends the animation and clears the spinner line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
	if writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "\r%*s\r", len(s.message)+3, "")
	}
}
