package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nhooyr.io/websocket"

	"github.com/kolabsync/otserver/pkg/logger"
	"github.com/kolabsync/otserver/pkg/session"
	"github.com/kolabsync/otserver/pkg/transport"
)

// Connection is a single client's WebSocket handler: it performs the join
// handshake, fans out the DocumentSession's events to the socket, and
// dispatches inbound frames into the session. Generalized from the
// teacher's Connection (pkg/server/connection.go) from the Rustpad
// Identity/History protocol to this spec's join/op/cursor frame set.
type Connection struct {
	clientID string
	doc      *session.DocumentSession
	conn     *transport.Conn
}

// ErrExpectedJoin is returned when the first frame on a new socket is not a
// join frame.
var ErrExpectedJoin = errors.New("server: expected join frame first")

// Handle runs the connection lifecycle: join handshake, event fan-out, and
// the inbound read loop, until the socket closes or ctx is canceled.
func (s *Server) Handle(ctx context.Context, docID string, ws *websocket.Conn) error {
	conn := transport.NewConn(ws)

	first, err := conn.ReadClientFrame(ctx)
	if err != nil {
		return fmt.Errorf("read join frame: %w", err)
	}
	if first.Type != transport.ClientFrameJoin {
		conn.WriteServerFrame(ctx, transport.NewErrorFrame(ErrExpectedJoin.Error()))
		return ErrExpectedJoin
	}
	if first.DocID != docID {
		conn.WriteServerFrame(ctx, transport.NewErrorFrame("docId mismatch between socket path and join frame"))
		return fmt.Errorf("server: docId mismatch, path=%s frame=%s", docID, first.DocID)
	}

	clientID := first.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}
	color := assignColor(clientID)

	doc, err := s.registry.GetOrCreate(ctx, docID)
	if err != nil {
		conn.WriteServerFrame(ctx, transport.NewErrorFrame("failed to load document"))
		return fmt.Errorf("get or create document %s: %w", docID, err)
	}

	c := &Connection{clientID: clientID, doc: doc, conn: conn}
	return c.run(ctx, first.ClientName, color)
}

func (c *Connection) run(ctx context.Context, name, color string) error {
	events, serverSeq, text, roster := c.doc.Join(c.clientID, name, color)

	rosterFrame := make([]transport.RosterEntry, len(roster))
	for i, r := range roster {
		rosterFrame[i] = transport.RosterEntry{ID: r.ClientID, Name: r.Name, Color: r.Color}
	}
	if err := c.conn.WriteServerFrame(ctx, transport.NewJoinedFrame(c.clientID, serverSeq, text, rosterFrame)); err != nil {
		c.doc.Disconnect(c.clientID)
		return fmt.Errorf("send joined: %w", err)
	}

	logger.Info("server: client %s joined", c.clientID)

	done := make(chan struct{})
	go c.forwardEvents(ctx, events, done)

	defer func() {
		c.doc.Disconnect(c.clientID)
		<-done
		logger.Info("server: client %s disconnected", c.clientID)
	}()

	for {
		frame, err := c.conn.ReadClientFrame(ctx)
		if err != nil {
			if transport.IsNormalClosure(err) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := c.handleFrame(ctx, frame); err != nil {
			logger.Error("server: client %s frame error: %v", c.clientID, err)
		}
	}
}

func (c *Connection) handleFrame(ctx context.Context, frame transport.ClientFrame) error {
	switch frame.Type {
	case transport.ClientFrameOp:
		_, err := c.doc.Apply(c.clientID, frame.BaseServerSeq, *frame.Operation)
		if err != nil {
			return c.conn.WriteServerFrame(ctx, transport.NewErrorFrame(err.Error()))
		}
		return nil
	case transport.ClientFrameCursor:
		var payload json.RawMessage = frame.CursorPayload
		c.doc.Cursor(c.clientID, payload)
		return nil
	case transport.ClientFrameMetadata:
		c.doc.SetMetadata(c.clientID, frame.MetadataKey, frame.MetadataValue)
		return nil
	default:
		return c.conn.WriteServerFrame(ctx, transport.NewErrorFrame("unexpected frame type after join"))
	}
}

// forwardEvents drains the session's event channel and writes each one as
// a server frame, until the channel closes (Disconnect) or ctx is done.
func (c *Connection) forwardEvents(ctx context.Context, events <-chan session.Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame, ok := toServerFrame(ev)
			if !ok {
				continue
			}
			if err := c.conn.WriteServerFrame(ctx, frame); err != nil {
				return
			}
		}
	}
}

func toServerFrame(ev session.Event) (transport.ServerFrame, bool) {
	switch ev.Kind {
	case session.EventAck:
		return transport.NewAckFrame(ev.Ack.ClientSeq, ev.Ack.ServerSeq), true
	case session.EventOp:
		return transport.NewOpFrame(*ev.Op), true
	case session.EventJoin:
		return transport.NewJoinFrame(ev.Join.ClientID, ev.Join.Name, ev.Join.Color), true
	case session.EventDisconnect:
		return transport.NewDisconnectFrame(ev.Disconnect), true
	case session.EventCursor:
		payload, err := json.Marshal(ev.Cursor.Payload)
		if err != nil {
			return transport.ServerFrame{}, false
		}
		return transport.NewCursorFrame(ev.Cursor.FromClientID, payload), true
	case session.EventMetadata:
		return transport.NewMetadataFrame(ev.Metadata.ClientID, ev.Metadata.Key, ev.Metadata.Value), true
	default:
		return transport.ServerFrame{}, false
	}
}
