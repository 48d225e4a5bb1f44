package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callprobe/callprobe/internal/amd"
)

// Handler upgrades inbound media stream requests to websocket and runs one
// session per connection.
type Handler struct {
	registry    *Registry
	machine     *amd.Machine
	resolver    *amd.Resolver
	dialer      InferenceDialer
	threshold   float64
	maxDuration time.Duration
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewHandler creates the media stream endpoint handler.
func NewHandler(
	registry *Registry,
	machine *amd.Machine,
	resolver *amd.Resolver,
	dialer InferenceDialer,
	threshold float64,
	maxDuration time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry:    registry,
		machine:     machine,
		resolver:    resolver,
		dialer:      dialer,
		threshold:   threshold,
		maxDuration: maxDuration,
		logger:      logger.With("subsystem", "relay-handler"),
		upgrader: websocket.Upgrader{
			// The telephony provider connects server-to-server with no
			// browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	session := NewSession(conn, SessionConfig{
		Machine:     h.machine,
		Resolver:    h.resolver,
		Dialer:      h.dialer,
		Threshold:   h.threshold,
		MaxDuration: h.maxDuration,
		Logger:      h.logger,
		OnBind:      h.registry.Bind,
	})

	h.registry.Add(session)
	defer h.registry.Remove(session.Handle)

	// Run blocks until the stream closes; each connection already has its
	// own goroutine courtesy of net/http.
	session.Run(r.Context())
}
