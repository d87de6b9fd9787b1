package agent

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/presence"
)

// WSDialer opens presence channels on the API's websocket endpoint.
type WSDialer struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
}

// NewWSDialer takes the HTTP base URL of the API; the scheme is switched to
// ws or wss.
func NewWSDialer(baseURL, token string) *WSDialer {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WSDialer{
		baseURL: u,
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (d *WSDialer) Dial(ctx context.Context, tripID string) (PresenceConn, error) {
	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}
	conn, _, err := d.dialer.DialContext(ctx, d.baseURL+"/presence/ws/"+tripID, header)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Send(ctx context.Context, msg presence.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(5 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, msg.Encode())
}

func (c *wsConn) Receive(context.Context) (presence.Message, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return presence.Message{}, err
		}
		msg, err := presence.Decode(data)
		if err != nil {
			continue
		}
		return msg, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
