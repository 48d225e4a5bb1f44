package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// Conn is the minimal websocket surface a session needs from either leg.
// *websocket.Conn satisfies it; tests substitute in-memory fakes.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// InferenceDialer opens the outbound connection to the inference backend.
type InferenceDialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// wsDialer dials the inference backend's streaming endpoint over websocket.
type wsDialer struct {
	url string
}

// NewInferenceDialer returns a dialer for the given inference service URL.
// http(s) schemes are rewritten to ws(s) so the config can hold either form.
func NewInferenceDialer(rawURL string) InferenceDialer {
	u := rawURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &wsDialer{url: u}
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing inference backend: %w", err)
	}
	return conn, nil
}
