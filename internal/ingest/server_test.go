package ingest

import (
	"context"
	"fmt"
	"net"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/troppes/strixlog/logstreamer/internal/filter"
	"github.com/troppes/strixlog/logstreamer/internal/hub"
	"github.com/troppes/strixlog/logstreamer/internal/metrics"
)

func startServer(t *testing.T, st *Streamer, m ConnCounter, maxConns int) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer("", st, m, maxConns, discardLogger())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	return ln.Addr().String(), func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	}
}

func TestServerEndToEnd(t *testing.T) {
	h := hub.New(hub.DefaultCapacity)
	m := metrics.New()
	st := NewStreamer(filter.New(), h, m, discardLogger())

	cursor := h.Subscribe()
	defer cursor.Close()

	addr, stop := startServer(t, st, m, 0)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	fmt.Fprint(conn, "INFO: server started\nERROR: disk full\n")
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []string
	for range 2 {
		rec, _, err := cursor.Next(ctx)
		if err != nil {
			t.Fatalf("cursor.Next: %v", err)
		}
		got = append(got, string(rec.Level)+" "+rec.Source)
	}
	if diff := cmp.Diff([]string{"INFO tcp_stream", "ERROR tcp_stream"}, got); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}

	snap := m.Snapshot()
	if snap.ActiveConnections != 1 || snap.LogsProcessed != 2 || snap.Errors != 1 {
		t.Errorf("snapshot = %+v, want 1 connection, 2 processed, 1 error", snap)
	}
}

func TestServerManyProducers(t *testing.T) {
	const producers = 10
	h := hub.New(hub.DefaultCapacity)
	m := metrics.New()
	st := NewStreamer(filter.New(), h, m, discardLogger())
	cursor := h.Subscribe()
	defer cursor.Close()

	addr, stop := startServer(t, st, m, 3)
	defer stop()

	for i := range producers {
		go func() {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Errorf("dial %d: %v", i, err)
				return
			}
			defer conn.Close()
			fmt.Fprintf(conn, "producer %d\n", i)
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []string
	for range producers {
		rec, _, err := cursor.Next(ctx)
		if err != nil {
			t.Fatalf("cursor.Next after %d records: %v", len(got), err)
		}
		got = append(got, rec.Message)
	}
	sort.Strings(got)

	var want []string
	for i := range producers {
		want = append(want, fmt.Sprintf("producer %d", i))
	}
	sort.Strings(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestServerShutdownClosesIdleConnections(t *testing.T) {
	h := hub.New(4)
	m := metrics.New()
	st := NewStreamer(filter.New(), h, m, discardLogger())

	addr, stop := startServer(t, st, m, 0)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait until the server has accepted the idle connection.
	deadline := time.Now().Add(time.Second)
	for m.Snapshot().ActiveConnections == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	stop()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("connection still open after shutdown")
	}
}
