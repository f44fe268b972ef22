package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/troppes/strixlog/logstreamer/internal/filter"
	"github.com/troppes/strixlog/logstreamer/internal/model"
	"github.com/troppes/strixlog/logstreamer/internal/source"
)

// TCPSource tags records that arrived on the TCP ingest endpoint.
const TCPSource = "tcp_stream"

// Publisher accepts records for fan-out. *hub.Hub implements it.
type Publisher interface {
	Publish(rec model.LogRecord)
}

// Recorder counts forwarded records. *metrics.Collector implements it.
type Recorder interface {
	IncProcessed()
	IncErrors()
}

// Streamer turns raw lines into records and forwards the ones that pass the
// filter. One Streamer is shared by all connections; the filter must not be
// reconfigured while connections are being served.
type Streamer struct {
	filter  *filter.LogFilter
	hub     Publisher
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewStreamer wires a streamer to its filter, hub and metrics.
func NewStreamer(f *filter.LogFilter, hub Publisher, m Recorder, logger *slog.Logger) *Streamer {
	return &Streamer{
		filter:  f,
		hub:     hub,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// HandleConnection processes newline-delimited text from r until end of
// stream. A final line without a terminator is still processed. It returns
// nil at end of stream and the read error otherwise.
func (s *Streamer) HandleConnection(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.Process(TCPSource, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading line: %w", err)
		}
	}
}

// Process classifies one raw line and, if it passes the filter, counts it and
// publishes it. It reports whether the record was forwarded.
func (s *Streamer) Process(src, line string) bool {
	rec := model.NewRecord(s.now(), src, line)
	if !s.filter.ShouldProcess(rec) {
		return false
	}

	s.metrics.IncProcessed()
	if rec.Level == model.LevelError {
		s.metrics.IncErrors()
	}
	s.hub.Publish(rec)
	return true
}

// Consume feeds lines from src through Process until ctx is done or the
// source closes its channel.
func (s *Streamer) Consume(ctx context.Context, src source.LogSource) {
	lines := src.Lines()
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				s.logger.Info("log source closed")
				return
			}
			s.Process(l.Source, l.Text)
		case <-ctx.Done():
			return
		}
	}
}
