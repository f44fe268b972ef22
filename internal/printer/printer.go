package printer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/troppes/strixlog/logstreamer/internal/model"
)

// Cursor is a hub subscription. *hub.Cursor implements it.
type Cursor interface {
	Next(ctx context.Context) (model.LogRecord, uint64, error)
}

// Printer writes records to a console, colored by level when the output is a
// terminal.
type Printer struct {
	w      io.Writer
	colors map[model.Level]*color.Color
}

// New creates a printer for w. Color is enabled only when w is a terminal.
func New(w io.Writer) *Printer {
	p := &Printer{
		w: w,
		colors: map[model.Level]*color.Color{
			model.LevelError: color.New(color.FgRed, color.Bold),
			model.LevelWarn:  color.New(color.FgYellow),
			model.LevelInfo:  color.New(color.FgGreen),
			model.LevelDebug: color.New(color.FgHiBlack),
		},
	}
	p.SetColor(isTerminal(w))
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColor forces color output on or off.
func (p *Printer) SetColor(on bool) {
	for _, c := range p.colors {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Run prints records from cur until ctx is done or the hub closes.
func (p *Printer) Run(ctx context.Context, cur Cursor) {
	for {
		rec, missed, err := cur.Next(ctx)
		if err != nil {
			return
		}
		if missed > 0 {
			fmt.Fprintf(p.w, "... %d records dropped\n", missed)
		}
		p.print(rec)
	}
}

func (p *Printer) print(rec model.LogRecord) {
	c, ok := p.colors[rec.Level]
	if !ok {
		fmt.Fprintln(p.w, rec.String())
		return
	}
	c.Fprintln(p.w, rec.String())
}

// PrintLogs prints records from cur to stdout until ctx is done or the hub
// closes.
func PrintLogs(ctx context.Context, cur Cursor) {
	New(os.Stdout).Run(ctx, cur)
}
