package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"
)

// ConnCounter counts accepted connections. *metrics.Collector implements it.
type ConnCounter interface {
	IncConnections()
}

// Server accepts TCP producers and runs one Streamer loop per connection.
type Server struct {
	addr     string
	streamer *Streamer
	metrics  ConnCounter
	maxConns int // 0 means unlimited
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewServer creates an ingest server. With maxConns > 0, Accept stops handing
// out connections while that many are open.
func NewServer(addr string, st *Streamer, m ConnCounter, maxConns int, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		streamer: st,
		metrics:  m,
		maxConns: maxConns,
		logger:   logger,
	}
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. On return the listener
// and all connections it accepted are closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.logger.Info("ingest listening", "addr", ln.Addr().String(), "max_connections", s.maxConns)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Transient failures such as EMFILE.
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.logger.Warn("ingest accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.metrics.IncConnections()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	s.logger.Info("ingest connection opened", "remote", remote)
	err := s.streamer.HandleConnection(conn)
	if err != nil && ctx.Err() == nil && !isClosedError(err) {
		s.logger.Warn("ingest read failed", "remote", remote, "error", err)
	}
	s.logger.Info("ingest connection closed", "remote", remote)
}

// isClosedError detects errors that occur when a connection is closed,
// typically during shutdown.
func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
