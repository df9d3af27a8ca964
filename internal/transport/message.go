package transport

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC protocol version the transport accepts.
const Version = "2.0"

// JSON-RPC error codes owned by the transport. Registry-level codes live
// in the tool package; these cover protocol and lifecycle failures.
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeTransportClosed = -32000
)

// Message is a JSON-RPC 2.0 request, notification, or response. The ID
// pointer distinguishes absent ids (nil) from present ones; a JSON null
// id also decodes to nil, which matches its JSON-RPC meaning.
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *RPCError        `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// IsRequest reports whether m expects a correlated response.
func (m Message) IsRequest() bool { return m.ID != nil && m.Method != "" }

// IsNotification reports whether m is a fire-and-forget call.
func (m Message) IsNotification() bool { return m.ID == nil && m.Method != "" }

// IsResponse reports whether m answers a previously dispatched request.
func (m Message) IsResponse() bool {
	return m.ID != nil && m.Method == "" && (m.Result != nil || m.Error != nil)
}

// Valid performs minimal shape validation: the protocol version must be
// "2.0" and the message must carry either a method or an id paired with a
// result or error.
func (m Message) Valid() bool {
	if m.JSONRPC != Version {
		return false
	}
	if m.Method != "" {
		return true
	}
	return m.ID != nil && (m.Result != nil || m.Error != nil)
}

// NewResponse builds a success response for the given request id.
func NewResponse(id *json.RawMessage, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("transport: marshal result: %w", err)
	}
	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response. A nil id is serialized as JSON null,
// which is what parse errors are bound to.
func NewError(id *json.RawMessage, code int, message string, data any) Message {
	if id == nil {
		null := json.RawMessage("null")
		id = &null
	}
	return Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// errNotJSON marks bodies that are not syntactically valid JSON, which
// map to a parse error rather than an invalid request.
var errNotJSON = fmt.Errorf("body is not valid JSON")

// splitBatch decodes a request body into individual messages. isBatch
// reports whether the payload was a JSON array, which controls the shape
// of the eventual response. Syntactically invalid JSON and empty batches
// return an error; elements that parse as JSON but not as message objects
// come back as zero Messages, which fail Valid() — shape validation and
// the resulting all-or-nothing rejection are the caller's job.
func splitBatch(body []byte) (msgs []Message, isBatch bool, err error) {
	if !json.Valid(body) {
		return nil, false, errNotJSON
	}

	if firstNonSpace(body) == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, true, err
		}
		if len(raws) == 0 {
			return nil, true, fmt.Errorf("empty batch")
		}
		msgs = make([]Message, len(raws))
		for i, raw := range raws {
			if err := json.Unmarshal(raw, &msgs[i]); err != nil {
				msgs[i] = Message{}
			}
		}
		return msgs, true, nil
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		msg = Message{}
	}
	return []Message{msg}, false, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c
	}
	return 0
}

// idKey returns the canonical pending-map key for a request id. Matching
// is exact on the raw JSON, so the string id "1" and the number 1 are
// distinct keys.
func idKey(id *json.RawMessage) string {
	if id == nil {
		return ""
	}
	return string(*id)
}
