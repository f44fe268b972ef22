package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/troppes/strixlog/logstreamer/internal/hub"
)

// Handler upgrades HTTP requests to WebSocket dashboard sessions.
type Handler struct {
	hub    *hub.Hub
	opts   *websocket.AcceptOptions
	logger *slog.Logger
}

// NewHandler serves sessions fed from h. originPatterns lists the browser
// origins allowed to connect, in websocket.AcceptOptions syntax; empty allows
// same-origin only.
func NewHandler(h *hub.Hub, originPatterns []string, logger *slog.Logger) *Handler {
	return &Handler{
		hub: h,
		opts: &websocket.AcceptOptions{
			Subprotocols:   []string{SubprotocolJSON, SubprotocolCBOR},
			OriginPatterns: originPatterns,
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.opts)
	if err != nil {
		h.logger.Warn("dashboard handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	codec := CodecFor(conn.Subprotocol())
	logger := h.logger.With("remote", r.RemoteAddr)
	logger.Info("dashboard session opened", "session", id, "codec", codec.Name())

	sess := NewSession(id, conn, h.hub.Subscribe(), codec, logger)
	if err := sess.Run(r.Context()); err != nil {
		logger.Warn("dashboard session ended with error", "session", id, "error", err)
	}
	logger.Info("dashboard session closed", "session", id)
}
