package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// ConsoleWriter turns zerolog's JSON events into colored one-line messages
// for the operator.
type ConsoleWriter struct {
	buffer   strings.Builder
	colorize colorstring.Colorize
	lock     sync.Mutex
}

func NewConsoleWriter() *ConsoleWriter {
	return &ConsoleWriter{
		colorize: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: !term.IsTerminal(int(os.Stderr.Fd())),
			Reset:   true,
		},
	}
}

// DisableColor forces plain output.
func (w *ConsoleWriter) DisableColor() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.colorize.Disable = true
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal":
		fallthrough
	case "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug":
		fallthrough
	case "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if job, ok := evt["job"]; ok {
		w.buffer.WriteString(job.(string) + ": ")
	}
	if step, ok := evt["step"]; ok {
		w.buffer.WriteString(step.(string) + ": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	if msg, ok := evt["message"].(string); ok {
		w.buffer.WriteString(msg)
	}

	if errorDetails, ok := evt["error"]; ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails.(string))
	}

	if os.Getenv("RUNBOT_DEBUG") != "" {
		w.buffer.WriteString("\n")
		for name, value := range evt {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, value))
		}
	}

	w.buffer.WriteString("[reset]\n")
	return fmt.Fprint(os.Stderr, w.colorize.Color(w.buffer.String()))
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv("RUNBOT_DEBUG") != "")
	}
}
