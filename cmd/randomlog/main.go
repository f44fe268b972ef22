package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

var levels = []string{"INFO", "WARN", "ERROR", "DEBUG"}
var messages = []string{
	"user login successful",
	"database query executed",
	"cache miss",
	"request timeout",
	"connection established",
	"file not found",
	"rate limit exceeded",
	"service restarted",
}

// randomLine returns one "LEVEL message" line without a terminator.
func randomLine(rnd *rand.Rand) string {
	return levels[rnd.IntN(len(levels))] + " " + messages[rnd.IntN(len(messages))]
}

// emitLogs writes one random line per interval until ctx is done or a write
// fails.
func emitLogs(ctx context.Context, w io.Writer, rnd *rand.Rand, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := fmt.Fprintln(w, randomLine(rnd)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func main() {
	addr := pflag.String("addr", "localhost:8080", "logstreamer ingest address")
	interval := pflag.Duration("interval", time.Second, "Delay between lines")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rnd := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	var backoff time.Duration
	for ctx.Err() == nil {
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", *addr)
		if err != nil {
			backoff = min(max(2*backoff, 100*time.Millisecond), 5*time.Second)
			logger.Warn("dial failed", "addr", *addr, "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		logger.Info("randomlog connected", "addr", *addr)
		if err := emitLogs(ctx, conn, rnd, *interval); err != nil {
			logger.Warn("connection lost", "error", err)
		}
		conn.Close()
	}
}
