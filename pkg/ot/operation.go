// Package ot implements the operational-transformation algebra for this
// collaborative editor: a pure Transform function over {insert, delete}
// operations tagged with a client identity and a per-client sequence
// number, plus the position bookkeeping (ServerOperation, batched rebase)
// built on top of it.
package ot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedOperation is returned when a wire-decoded operation is missing
// a required field or has an unrecognized type tag.
var ErrMalformedOperation = errors.New("ot: malformed operation")

// Kind tags an Operation's variant.
type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Operation is a tagged variant: either an Insert or a Delete authored by a
// specific client against the document state the client had observed (its
// "base"). Exactly one of Text (insert) or Len (delete) is meaningful,
// selected by Kind.
type Operation struct {
	Kind      Kind
	Pos       uint32
	Text      string // set for KindInsert
	Len       uint32 // set for KindDelete
	ClientID  string
	ClientSeq uint64
}

// NewInsert constructs a well-formed insert operation.
func NewInsert(pos uint32, text string, clientID string, clientSeq uint64) Operation {
	return Operation{Kind: KindInsert, Pos: pos, Text: text, ClientID: clientID, ClientSeq: clientSeq}
}

// NewDelete constructs a well-formed delete operation.
func NewDelete(pos uint32, length uint32, clientID string, clientSeq uint64) Operation {
	return Operation{Kind: KindDelete, Pos: pos, Len: length, ClientID: clientID, ClientSeq: clientSeq}
}

// InsertLen returns the number of code points this operation inserts (0 for
// deletes).
func (o Operation) InsertLen() uint32 {
	if o.Kind == KindInsert {
		return uint32(len([]rune(o.Text)))
	}
	return 0
}

// DeleteLen returns the number of code points this operation removes (0 for
// inserts).
func (o Operation) DeleteLen() uint32 {
	if o.Kind == KindDelete {
		return o.Len
	}
	return 0
}

// IsNoop reports whether applying this operation has no observable effect:
// an empty-text insert or a zero-length delete. Per spec.md §3, such
// operations are well-formed and must still be accepted, but they are
// idempotent no-ops.
func (o Operation) IsNoop() bool {
	switch o.Kind {
	case KindInsert:
		return o.Text == ""
	case KindDelete:
		return o.Len == 0
	default:
		return true
	}
}

// wireOperation is the JSON wire shape from spec.md §6: a single object with
// type/pos/clientId/clientSeq and either text or len depending on type.
type wireOperation struct {
	Type      Kind    `json:"type"`
	Pos       uint32  `json:"pos"`
	ClientID  string  `json:"clientId"`
	ClientSeq uint64  `json:"clientSeq"`
	Text      *string `json:"text,omitempty"`
	Len       *uint32 `json:"len,omitempty"`
}

// MarshalJSON emits the spec.md §6 wire shape for Operation.
func (o Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{
		Type:      o.Kind,
		Pos:       o.Pos,
		ClientID:  o.ClientID,
		ClientSeq: o.ClientSeq,
	}
	switch o.Kind {
	case KindInsert:
		text := o.Text
		w.Text = &text
	case KindDelete:
		length := o.Len
		w.Len = &length
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedOperation, o.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the spec.md §6 wire shape into an Operation.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Type {
	case KindInsert:
		if w.Text == nil {
			return fmt.Errorf("%w: insert missing text", ErrMalformedOperation)
		}
		*o = NewInsert(w.Pos, *w.Text, w.ClientID, w.ClientSeq)
	case KindDelete:
		if w.Len == nil {
			return fmt.Errorf("%w: delete missing len", ErrMalformedOperation)
		}
		*o = NewDelete(w.Pos, *w.Len, w.ClientID, w.ClientSeq)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedOperation, w.Type)
	}
	return nil
}

// ServerOperation is an Operation stamped with the authoritative sequence
// number assigned by the DocumentSession on apply.
type ServerOperation struct {
	Operation
	ServerSeq uint64
}

// wireServerOperation gives ServerOperation its own wire shape (the
// operation nested under "operation", plus "serverSeq"), since Operation's
// own MarshalJSON/UnmarshalJSON would otherwise shadow the promoted field
// and drop ServerSeq.
type wireServerOperation struct {
	Operation Operation `json:"operation"`
	ServerSeq uint64    `json:"serverSeq"`
}

// MarshalJSON emits the spec.md §6 {"operation":{...},"serverSeq":N} shape.
func (s ServerOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireServerOperation{Operation: s.Operation, ServerSeq: s.ServerSeq})
}

// UnmarshalJSON decodes the spec.md §6 {"operation":{...},"serverSeq":N} shape.
func (s *ServerOperation) UnmarshalJSON(data []byte) error {
	var w wireServerOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Operation = w.Operation
	s.ServerSeq = w.ServerSeq
	return nil
}
