package transport

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Default read/write deadlines, grounded on pkg/server/connection.go's
// literal 30s read / 10s write timeouts.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Conn wraps a websocket.Conn with the per-message read/write deadline
// discipline spec.md §5 requires ("inbound reads... have an idle timeout...
// outbound sends have a per-message write deadline"). Writes are
// serialized, matching the teacher's Connection.sendMu.
type Conn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps ws with the default deadlines.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, readTimeout: DefaultReadTimeout, writeTimeout: DefaultWriteTimeout}
}

// ReadClientFrame reads one ClientFrame, applying the idle read timeout.
// A timeout or malformed frame both return an error, and the two are not
// told apart: Connection.run (pkg/server) ends the connection on any read
// error, so a malformed frame closes the connection rather than being
// answered with an error frame.
func (c *Conn) ReadClientFrame(ctx context.Context) (ClientFrame, error) {
	readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	var frame ClientFrame
	err := wsjson.Read(readCtx, c.ws, &frame)
	return frame, err
}

// WriteServerFrame writes one ServerFrame under the write deadline,
// serialized against concurrent writers.
func (c *Conn) WriteServerFrame(ctx context.Context, frame ServerFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, c.ws, frame)
}

// IsNormalClosure reports whether err represents a client-initiated clean
// close, which the caller should treat as a graceful Disconnect rather than
// a TransportFailure.
func IsNormalClosure(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}

// Close closes the underlying socket with a normal closure status.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// CloseWithError closes the underlying socket reporting an internal error.
func (c *Conn) CloseWithError(reason string) error {
	return c.ws.Close(websocket.StatusInternalError, reason)
}
