package transport

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	v1 "taskchat/shared/contracts/chatstream/v1"
)

const DefaultWSWriteTimeout = 5 * time.Second

// WS writes events as JSON text messages on a WebSocket connection.
type WS struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewWS(conn *websocket.Conn, writeTimeout time.Duration) *WS {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWSWriteTimeout
	}
	return &WS{conn: conn, writeTimeout: writeTimeout}
}

func (w *WS) WriteEvent(parent context.Context, ev any) error {
	ctx, cancel := context.WithTimeout(parent, w.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.conn, ev)
}

func (w *WS) WriteDone(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, w.writeTimeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, []byte(v1.Done))
}
