package realtime

import (
	"context"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a gorilla server connection to the hub's Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func NewWebsocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) WriteJSON(v any) error { return t.conn.WriteJSON(v) }
func (t *wsTransport) Close() error          { return t.conn.Close() }

// wsClientConn adapts a gorilla client connection to ClientConn.
type wsClientConn struct {
	conn *websocket.Conn
}

func (c *wsClientConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsClientConn) WriteJSON(v any) error { return c.conn.WriteJSON(v) }
func (c *wsClientConn) Close() error          { return c.conn.Close() }

// WebsocketDialer returns a Dialer connecting to the given URL.
func WebsocketDialer(url string) Dialer {
	return func(ctx context.Context) (ClientConn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &wsClientConn{conn: conn}, nil
	}
}
