package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var colors = []color.Attribute{color.FgYellow, color.FgGreen, color.FgCyan, color.FgWhite, color.FgMagenta}
var index = -1

// l serializes color selection and every write made through a ColorLogger,
// so lines from concurrent jobs never interleave.
var l sync.Mutex

const MaxNameLength = 20

// ColorLogger provides an io.Writer that prefixes output with a colored name.
type ColorLogger struct {
	name   string
	writer io.Writer
	c      *color.Color
}

func NewColorLogger(name string, writer io.Writer, newColor bool) *ColorLogger {
	l.Lock()
	defer l.Unlock()
	if newColor || index < 0 {
		index = (index + 1) % len(colors)
	}

	if len(name) > MaxNameLength {
		name = name[:MaxNameLength-3] + "..."
	}

	return &ColorLogger{
		name:   name,
		writer: writer,
		c:      color.New(colors[index]),
	}
}

func (c *ColorLogger) WithColor(attr color.Attribute) *ColorLogger {
	return &ColorLogger{name: c.name, writer: c.writer, c: color.New(attr)}
}

func (c *ColorLogger) Write(p []byte) (int, error) {
	l.Lock()
	defer l.Unlock()
	if _, err := c.c.Fprintf(c.writer, "%s | %s", c.name, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ConsoleSink writes log calls to a terminal through ColorLoggers. Errors are
// printed in red with an "ERROR: " prefix.
type ConsoleSink struct {
	out *ColorLogger
	err *ColorLogger
}

func NewConsoleSink(name string, w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	out := NewColorLogger(name, w, true)
	return &ConsoleSink{out: out, err: out.WithColor(color.FgRed)}
}

func (s *ConsoleSink) LogMessage(format string, args ...any) {
	writeLine(s.out, "", format, args...)
}

func (s *ConsoleSink) LogError(format string, args ...any) {
	writeLine(s.err, "ERROR: ", format, args...)
}

func writeLine(w io.Writer, prefix, format string, args ...any) {
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	msg = strings.ReplaceAll(msg, "\n", " ")
	_, _ = io.WriteString(w, prefix+msg+"\n")
}
