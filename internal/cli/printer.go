package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/logrusorgru/aurora"
	"golang.org/x/term"

	"github.com/duet-run/duet/internal/cliutil"
	"github.com/duet-run/duet/internal/supervisor"
)

// eventPrinter renders supervisor events either as colored human-readable
// status lines or as JSON log records.
type eventPrinter struct {
	out    io.Writer
	errOut io.Writer
	json   bool
	enc    *json.Encoder
	au     aurora.Aurora
}

func newEventPrinter(out, errOut io.Writer, jsonMode bool) *eventPrinter {
	p := &eventPrinter{out: out, errOut: errOut, json: jsonMode}
	if jsonMode {
		p.enc = json.NewEncoder(out)
		return p
	}
	p.au = aurora.NewAurora(isTerminal(out))
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (p *eventPrinter) drain(events <-chan supervisor.Event) {
	for event := range events {
		p.print(event)
	}
}

func (p *eventPrinter) print(event supervisor.Event) {
	if p.json {
		cliutil.EncodeLogEvent(p.enc, p.errOut, event)
		return
	}

	stamp := event.Timestamp.Format("15:04:05")
	name := p.au.Bold(event.Process)

	switch event.Type {
	case supervisor.EventTypeLog:
		line := cliutil.RedactSecrets(event.Message)
		if event.Level == "warn" || event.Level == "error" {
			fmt.Fprintf(p.out, "%s %s | %s\n", stamp, name, p.au.Yellow(line))
			return
		}
		fmt.Fprintf(p.out, "%s %s | %s\n", stamp, name, line)
	case supervisor.EventTypeError:
		msg := event.Message
		if event.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, event.Err)
		}
		fmt.Fprintf(p.errOut, "%s %s %s\n", stamp, name, p.au.Red(msg))
	case supervisor.EventTypeReady:
		fmt.Fprintf(p.out, "%s %s %s\n", stamp, name, p.au.Green(event.Message))
	case supervisor.EventTypeExited, supervisor.EventTypeTerminated:
		fmt.Fprintf(p.out, "%s %s %s\n", stamp, name, p.au.Faint(event.Message))
	default:
		fmt.Fprintf(p.out, "%s %s %s\n", stamp, name, event.Message)
	}
}
