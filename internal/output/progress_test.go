package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestCounterNonTTYStaysSilentUntilFinish(t *testing.T) {
	var buf bytes.Buffer
	c := NewCounter("jira", 0, "apps")
	c.SetWriter(&buf)

	for i := 0; i < 10; i++ {
		c.Increment()
	}
	if buf.Len() != 0 {
		t.Errorf("non-TTY counter wrote %q before Finish, want nothing", buf.String())
	}

	c.Finish()
	if got, want := buf.String(), "jira: 10 apps\n"; got != want {
		t.Errorf("Finish() wrote %q, want %q", got, want)
	}
}

func TestCounterWithTotal(t *testing.T) {
	var buf bytes.Buffer
	c := NewCounter("downloading", 480, "artifacts")
	c.SetWriter(&buf)
	c.Set(12)
	c.Finish()

	if got, want := buf.String(), "downloading: 12/480 artifacts\n"; got != want {
		t.Errorf("Finish() wrote %q, want %q", got, want)
	}
}

func TestCounterSetLabel(t *testing.T) {
	var buf bytes.Buffer
	c := NewCounter("jira", 0, "apps")
	c.SetWriter(&buf)
	c.Set(350)
	c.SetLabel("confluence")
	c.Set(5)
	c.Finish()

	if got, want := buf.String(), "confluence: 5 apps\n"; got != want {
		t.Errorf("Finish() wrote %q, want %q", got, want)
	}
}

func TestCounterConcurrentIncrements(t *testing.T) {
	var buf bytes.Buffer
	c := NewCounter("workers", 0, "done")
	c.SetWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				c.Increment()
			}
		}()
	}
	wg.Wait()
	c.Finish()

	if got, want := buf.String(), "workers: 200 done\n"; got != want {
		t.Errorf("Finish() wrote %q, want %q", got, want)
	}
}

func TestSpinnerNonTTYPrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("summarizing mirror state")
	s.SetWriter(&buf)
	s.Start()
	s.Start() // second start is a no-op
	s.Stop()
	s.Stop() // second stop is a no-op

	if got, want := buf.String(), "summarizing mirror state\n"; got != want {
		t.Errorf("spinner wrote %q, want the message once", got)
	}
}

func TestWriterIsTTYFallsBackForPlainWriters(t *testing.T) {
	if writerIsTTY(&bytes.Buffer{}) {
		t.Error("writerIsTTY(*bytes.Buffer) = true, want false")
	}
	if writerIsTTY(&strings.Builder{}) {
		t.Error("writerIsTTY(*strings.Builder) = true, want false")
	}
}
