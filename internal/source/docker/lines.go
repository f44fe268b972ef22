package docker

import (
	"bytes"
	"context"
	"strings"

	"github.com/troppes/strixlog/logstreamer/internal/source"
)

// lineWriter splits one demultiplexed container stream into lines. Docker
// frames do not align with line boundaries, so a partial trailing line is
// held until the next write or Flush.
type lineWriter struct {
	ctx    context.Context
	source string
	out    chan<- source.Line
	buf    []byte
}

func newLineWriter(ctx context.Context, src string, out chan<- source.Line) *lineWriter {
	return &lineWriter{ctx: ctx, source: src, out: out}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	start := 0
	for {
		i := bytes.IndexByte(w.buf[start:], '\n')
		if i < 0 {
			break
		}
		if err := w.emit(w.buf[start : start+i]); err != nil {
			return 0, err
		}
		start += i + 1
	}
	w.buf = append(w.buf[:0], w.buf[start:]...)
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.emit(w.buf)
	w.buf = w.buf[:0]
	return err
}

// emit skips blank lines.
func (w *lineWriter) emit(b []byte) error {
	text := strings.TrimRight(string(b), "\r")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	select {
	case w.out <- source.Line{Source: w.source, Text: text}:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}
