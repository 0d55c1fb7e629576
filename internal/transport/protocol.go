// Package transport turns the wire protocol of §6 — UTF-8 JSON frames
// over a websocket — into calls on session.DocumentSession, and defines the
// frame types a client such as cmd/client decodes to drive
// clientsync.ClientSync, generalized from a single hardcoded document to
// the registry-backed multi-document model §4.4 and §9 describe.
package transport

import (
	"encoding/json"
	"fmt"

	"syncdoc/internal/ot"
	"syncdoc/internal/session"
)

// Frame type tags, spec §6.
const (
	TypeJoin       = "join"
	TypeOp         = "op"
	TypeCursor     = "cursor"
	TypeJoined     = "joined"
	TypeAck        = "ack"
	TypeDisconnect = "disconnect"
	TypeError      = "error"
)

// Envelope is the minimal shape every frame shares: enough to dispatch on
// Type before decoding the rest. Exported so non-Go clients' Go test
// helpers, or a CLI client like cmd/client, can peek at a frame's type
// without importing the full per-type struct set.
type Envelope struct {
	Type string `json:"type"`
}

// ClientJoin is the inbound {"type":"join",...} frame.
type ClientJoin struct {
	Type       string `json:"type"`
	DocID      string `json:"docId"`
	ClientName string `json:"clientName"`
	ClientID   string `json:"clientId,omitempty"`
}

// ClientOp is the inbound {"type":"op",...} frame.
type ClientOp struct {
	Type      string `json:"type"`
	DocID     string `json:"docId"`
	Operation WireOp `json:"operation"`
}

// WireOp is Operation's JSON shape: {"type":"insert"|"delete",
// "pos":N,"clientId":"...","clientSeq":N, and either "text" or "len"}.
type WireOp struct {
	Type      string `json:"type"`
	Pos       int    `json:"pos"`
	Text      string `json:"text,omitempty"`
	Len       int    `json:"len,omitempty"`
	ClientID  string `json:"clientId"`
	ClientSeq uint64 `json:"clientSeq"`
}

// ToWireOperation converts an ot.Operation to its wire shape.
func ToWireOperation(op ot.Operation) WireOp {
	w := WireOp{
		Pos:       op.Pos,
		ClientID:  string(op.ClientID),
		ClientSeq: op.ClientSeq,
	}
	switch op.Kind {
	case ot.Insert:
		w.Type = "insert"
		w.Text = op.Text
	case ot.Delete:
		w.Type = "delete"
		w.Len = op.Len
	}
	return w
}

// FromWireOperation converts a decoded wire shape back to an ot.Operation.
func FromWireOperation(w WireOp) (ot.Operation, error) {
	switch w.Type {
	case "insert":
		return ot.InsertOp(w.Pos, w.Text, ot.ClientID(w.ClientID), w.ClientSeq), nil
	case "delete":
		return ot.DeleteOp(w.Pos, w.Len, ot.ClientID(w.ClientID), w.ClientSeq), nil
	default:
		return ot.Operation{}, fmt.Errorf("transport: unknown operation type %q", w.Type)
	}
}

// ServerJoined is the outbound {"type":"joined",...} frame.
type ServerJoined struct {
	Type     string               `json:"type"`
	ClientID string               `json:"clientId"`
	Seq      uint64               `json:"seq"`
	Doc      string               `json:"doc"`
	Clients  []session.ClientInfo `json:"clients"`
}

// ServerJoinNotice is the outbound {"type":"join",...} frame pushed to
// everyone but the joining client.
type ServerJoinNotice struct {
	Type       string `json:"type"`
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
	Color      string `json:"color"`
}

// ServerOp is the outbound {"type":"op",...} broadcast frame.
type ServerOp struct {
	Type      string `json:"type"`
	Operation WireOp `json:"operation"`
	ServerSeq uint64 `json:"serverSeq"`
}

// ServerAck is the outbound {"type":"ack",...} frame.
type ServerAck struct {
	Type      string `json:"type"`
	ClientSeq uint64 `json:"clientSeq"`
	ServerSeq uint64 `json:"serverSeq"`
}

// ServerDisconnect is the outbound {"type":"disconnect",...} frame.
type ServerDisconnect struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// ServerErrorFrame is the outbound {"type":"error",...} frame (spec §7:
// MalformedFrame / UnknownDocument survive the connection).
type ServerErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// encodeFrame marshals a session frame (see session.go's Frame types) or
// an outbound envelope struct to wire JSON.
func encodeFrame(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// marshalCursor re-attaches a cursor payload that was kept as raw JSON on
// decode, since json.Marshal can't merge a RawMessage into sibling fields
// declared with struct tags without a manual merge step.
func marshalCursor(clientID string, payload json.RawMessage) ([]byte, error) {
	out := map[string]json.RawMessage{
		"type":     json.RawMessage(`"cursor"`),
		"clientId": json.RawMessage(fmt.Sprintf("%q", clientID)),
	}
	var fields map[string]json.RawMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			if k == "type" || k == "clientId" {
				continue
			}
			out[k] = v
		}
	}
	return json.Marshal(out)
}
