package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/troppes/strixlog/logstreamer/internal/hub"
	"github.com/troppes/strixlog/logstreamer/internal/model"
)

// Transport is the message-oriented duplex channel to one dashboard client.
// *websocket.Conn implements it.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Cursor is the hub subscription a session drains. *hub.Cursor implements it.
type Cursor interface {
	Next(ctx context.Context) (model.LogRecord, uint64, error)
	Lag() uint64
	Close()
}

// Session forwards hub records to one dashboard client.
type Session struct {
	id        string
	transport Transport
	cursor    Cursor
	codec     Codec
	logger    *slog.Logger
}

// NewSession binds a transport to a hub cursor. The session owns both and
// releases them when Run returns.
func NewSession(id string, t Transport, c Cursor, codec Codec, logger *slog.Logger) *Session {
	return &Session{id: id, transport: t, cursor: c, codec: codec, logger: logger}
}

// Run pumps records out and reads client messages in until either direction
// stops; the other is then cancelled. It returns the error that ended the
// session, or nil when the client or the hub closed normally.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.cursor.Close()

	errc := make(chan error, 2)
	go func() { errc <- s.outbound(ctx) }()
	go func() { errc <- s.inbound(ctx) }()

	err := <-errc

	code, reason := websocket.StatusNormalClosure, ""
	if errors.Is(err, hub.ErrClosed) {
		code, reason = websocket.StatusGoingAway, "server shutting down"
		err = nil
	}
	// Close before cancelling: cancelling a pending websocket Read drops the
	// connection without a close frame.
	s.transport.Close(code, reason) //nolint:errcheck
	cancel()
	<-errc
	return err
}

func (s *Session) outbound(ctx context.Context) error {
	for {
		rec, missed, err := s.cursor.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if missed > 0 {
			s.logger.Warn("dashboard subscriber lagged", "session", s.id, "missed", missed, "behind", s.cursor.Lag())
		}

		data, err := s.codec.Encode(rec)
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		if err := s.transport.Write(ctx, s.codec.MessageType(), data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("writing record: %w", err)
		}
	}
}

func (s *Session) inbound(ctx context.Context) error {
	for {
		typ, data, err := s.transport.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) != -1 {
				return nil
			}
			return fmt.Errorf("reading client message: %w", err)
		}
		if typ == websocket.MessageText {
			s.handleCommand(string(data))
		}
	}
}

// handleCommand receives text sent by the dashboard. Filter-update commands
// have no grammar yet, so they are only logged.
func (s *Session) handleCommand(text string) {
	s.logger.Info("dashboard command received", "session", s.id, "command", text)
}
