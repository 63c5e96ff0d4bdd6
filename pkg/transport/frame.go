// Package transport defines the wire frame schema shared by client and
// server and a WebSocket connection wrapper around it, grounded on the
// teacher's tagged-union protocol package (internal/protocol/messages.go)
// and its connection handling (pkg/server/connection.go), generalized from
// Rustpad-style Identity/History/Language frames to this spec's
// join/op/cursor/ack/disconnect/error frame set.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kolabsync/otserver/pkg/ot"
)

// ErrMalformedFrame is returned when a frame is missing a required field or
// carries an unrecognized type tag, per spec.md §7's MalformedFrame kind.
var ErrMalformedFrame = errors.New("transport: malformed frame")

// ClientFrameType tags the kind of a client-to-server frame.
type ClientFrameType string

const (
	ClientFrameJoin     ClientFrameType = "join"
	ClientFrameOp       ClientFrameType = "op"
	ClientFrameCursor   ClientFrameType = "cursor"
	ClientFrameMetadata ClientFrameType = "metadata"
)

// ClientFrame is a client-to-server message, per spec.md §6.
type ClientFrame struct {
	Type          ClientFrameType
	DocID         string
	ClientName    string          // join only
	ClientID      string          // join (optional, for reconnect) / cursor
	Operation     *ot.Operation   // op only
	BaseServerSeq uint64          // op only: the server_seq the op was authored against
	CursorPayload json.RawMessage // cursor only: opaque
	MetadataKey   string          // metadata only
	MetadataValue string          // metadata only
}

type wireClientFrame struct {
	Type          ClientFrameType `json:"type"`
	DocID         string          `json:"docId"`
	ClientName    string          `json:"clientName,omitempty"`
	ClientID      string          `json:"clientId,omitempty"`
	Operation     *ot.Operation   `json:"operation,omitempty"`
	BaseServerSeq uint64          `json:"baseServerSeq,omitempty"`
	Cursor        json.RawMessage `json:"cursor,omitempty"`
	Key           string          `json:"key,omitempty"`
	Value         string          `json:"value,omitempty"`
}

// MarshalJSON emits the spec.md §6 client frame wire shape.
func (f ClientFrame) MarshalJSON() ([]byte, error) {
	w := wireClientFrame{
		Type:          f.Type,
		DocID:         f.DocID,
		ClientName:    f.ClientName,
		ClientID:      f.ClientID,
		Operation:     f.Operation,
		BaseServerSeq: f.BaseServerSeq,
		Cursor:        f.CursorPayload,
		Key:           f.MetadataKey,
		Value:         f.MetadataValue,
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the spec.md §6 client frame wire shape, validating
// that the fields required for the frame's type are present.
func (f *ClientFrame) UnmarshalJSON(data []byte) error {
	var w wireClientFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Type {
	case ClientFrameJoin:
		if w.DocID == "" {
			return fmt.Errorf("%w: join missing docId", ErrMalformedFrame)
		}
	case ClientFrameOp:
		if w.DocID == "" || w.Operation == nil {
			return fmt.Errorf("%w: op missing docId or operation", ErrMalformedFrame)
		}
	case ClientFrameCursor:
		if w.DocID == "" || w.ClientID == "" {
			return fmt.Errorf("%w: cursor missing docId or clientId", ErrMalformedFrame)
		}
	case ClientFrameMetadata:
		if w.DocID == "" || w.Key == "" {
			return fmt.Errorf("%w: metadata missing docId or key", ErrMalformedFrame)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, w.Type)
	}

	*f = ClientFrame{
		Type:          w.Type,
		DocID:         w.DocID,
		ClientName:    w.ClientName,
		ClientID:      w.ClientID,
		Operation:     w.Operation,
		BaseServerSeq: w.BaseServerSeq,
		CursorPayload: w.Cursor,
		MetadataKey:   w.Key,
		MetadataValue: w.Value,
	}
	return nil
}

// ServerFrameType tags the kind of a server-to-client frame.
type ServerFrameType string

const (
	ServerFrameJoined     ServerFrameType = "joined"
	ServerFrameJoin       ServerFrameType = "join"
	ServerFrameOp         ServerFrameType = "op"
	ServerFrameAck        ServerFrameType = "ack"
	ServerFrameCursor     ServerFrameType = "cursor"
	ServerFrameDisconnect ServerFrameType = "disconnect"
	ServerFrameError      ServerFrameType = "error"
	ServerFrameMetadata   ServerFrameType = "metadata"
)

// RosterEntry describes one connected client in a joined frame's roster.
type RosterEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ServerFrame is a server-to-client message, per spec.md §6.
type ServerFrame struct {
	Type ServerFrameType

	// joined
	ClientID string
	SeqAtJoin uint64
	Doc       string
	Clients   []RosterEntry

	// join (to others)
	ClientName string
	Color      string

	// op
	Op *ot.ServerOperation

	// ack
	ClientSeq uint64
	ServerSeq uint64

	// cursor
	CursorFrom    string
	CursorPayload json.RawMessage

	// disconnect
	DisconnectedID string

	// error
	Message string

	// metadata
	MetadataFrom  string
	MetadataKey   string
	MetadataValue string
}

type wireServerFrame struct {
	Type ServerFrameType `json:"type"`

	ClientID string        `json:"clientId,omitempty"`
	Seq      uint64        `json:"seq,omitempty"`
	Doc      *string       `json:"doc,omitempty"`
	Clients  []RosterEntry `json:"clients,omitempty"`

	ClientName string `json:"clientName,omitempty"`
	Color      string `json:"color,omitempty"`

	Operation *ot.ServerOperation `json:"operation,omitempty"`
	ServerSeq uint64              `json:"serverSeq,omitempty"`

	ClientSeq uint64 `json:"clientSeq,omitempty"`

	Cursor json.RawMessage `json:"cursor,omitempty"`

	Message string `json:"message,omitempty"`

	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// MarshalJSON emits the spec.md §6 server frame wire shape for f.Type.
func (f ServerFrame) MarshalJSON() ([]byte, error) {
	w := wireServerFrame{Type: f.Type}

	switch f.Type {
	case ServerFrameJoined:
		w.ClientID = f.ClientID
		w.Seq = f.SeqAtJoin
		doc := f.Doc
		w.Doc = &doc
		w.Clients = f.Clients
		if w.Clients == nil {
			w.Clients = []RosterEntry{}
		}
	case ServerFrameJoin:
		w.ClientID = f.ClientID
		w.ClientName = f.ClientName
		w.Color = f.Color
	case ServerFrameOp:
		w.Operation = f.Op
		w.ServerSeq = f.ServerSeq
	case ServerFrameAck:
		w.ClientSeq = f.ClientSeq
		w.ServerSeq = f.ServerSeq
	case ServerFrameCursor:
		w.ClientID = f.CursorFrom
		w.Cursor = f.CursorPayload
	case ServerFrameDisconnect:
		w.ClientID = f.DisconnectedID
	case ServerFrameError:
		w.Message = f.Message
	case ServerFrameMetadata:
		w.ClientID = f.MetadataFrom
		w.Key = f.MetadataKey
		w.Value = f.MetadataValue
	default:
		return nil, fmt.Errorf("%w: unknown server frame type %q", ErrMalformedFrame, f.Type)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes a server frame. Used by cmd/client-sim and by tests
// that drive the wire protocol directly.
func (f *ServerFrame) UnmarshalJSON(data []byte) error {
	var w wireServerFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := ServerFrame{Type: w.Type}
	switch w.Type {
	case ServerFrameJoined:
		out.ClientID = w.ClientID
		out.SeqAtJoin = w.Seq
		if w.Doc != nil {
			out.Doc = *w.Doc
		}
		out.Clients = w.Clients
	case ServerFrameJoin:
		out.ClientID = w.ClientID
		out.ClientName = w.ClientName
		out.Color = w.Color
	case ServerFrameOp:
		out.Op = w.Operation
		out.ServerSeq = w.ServerSeq
	case ServerFrameAck:
		out.ClientSeq = w.ClientSeq
		out.ServerSeq = w.ServerSeq
	case ServerFrameCursor:
		out.CursorFrom = w.ClientID
		out.CursorPayload = w.Cursor
	case ServerFrameDisconnect:
		out.DisconnectedID = w.ClientID
	case ServerFrameError:
		out.Message = w.Message
	case ServerFrameMetadata:
		out.MetadataFrom = w.ClientID
		out.MetadataKey = w.Key
		out.MetadataValue = w.Value
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, w.Type)
	}

	*f = out
	return nil
}

// NewJoinedFrame constructs a joined acknowledgment frame.
func NewJoinedFrame(clientID string, seq uint64, doc string, roster []RosterEntry) ServerFrame {
	return ServerFrame{Type: ServerFrameJoined, ClientID: clientID, SeqAtJoin: seq, Doc: doc, Clients: roster}
}

// NewJoinFrame constructs a join-notification frame for other clients.
func NewJoinFrame(clientID, name, color string) ServerFrame {
	return ServerFrame{Type: ServerFrameJoin, ClientID: clientID, ClientName: name, Color: color}
}

// NewOpFrame constructs an op broadcast frame.
func NewOpFrame(op ot.ServerOperation) ServerFrame {
	return ServerFrame{Type: ServerFrameOp, Op: &op, ServerSeq: op.ServerSeq}
}

// NewAckFrame constructs an ack frame.
func NewAckFrame(clientSeq, serverSeq uint64) ServerFrame {
	return ServerFrame{Type: ServerFrameAck, ClientSeq: clientSeq, ServerSeq: serverSeq}
}

// NewCursorFrame constructs a cursor pass-through frame.
func NewCursorFrame(fromClientID string, payload json.RawMessage) ServerFrame {
	return ServerFrame{Type: ServerFrameCursor, CursorFrom: fromClientID, CursorPayload: payload}
}

// NewDisconnectFrame constructs a disconnect notification frame.
func NewDisconnectFrame(clientID string) ServerFrame {
	return ServerFrame{Type: ServerFrameDisconnect, DisconnectedID: clientID}
}

// NewErrorFrame constructs an error frame.
func NewErrorFrame(message string) ServerFrame {
	return ServerFrame{Type: ServerFrameError, Message: message}
}

// NewMetadataFrame constructs a metadata broadcast frame.
func NewMetadataFrame(fromClientID, key, value string) ServerFrame {
	return ServerFrame{Type: ServerFrameMetadata, MetadataFrom: fromClientID, MetadataKey: key, MetadataValue: value}
}
