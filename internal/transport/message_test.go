package transport

import (
	"encoding/json"
	"strings"
	"testing"
)

func rawID(s string) *json.RawMessage {
	raw := json.RawMessage(s)
	return &raw
}

func TestMessage_Predicates(t *testing.T) {
	t.Parallel()

	req := Message{JSONRPC: Version, ID: rawID("1"), Method: "tools/call"}
	if !req.IsRequest() || req.IsNotification() || req.IsResponse() {
		t.Error("request misclassified")
	}

	note := Message{JSONRPC: Version, Method: "notify"}
	if !note.IsNotification() || note.IsRequest() {
		t.Error("notification misclassified")
	}

	resp := Message{JSONRPC: Version, ID: rawID("1"), Result: json.RawMessage(`"ok"`)}
	if !resp.IsResponse() || resp.IsRequest() || resp.IsNotification() {
		t.Error("response misclassified")
	}

	errResp := Message{JSONRPC: Version, ID: rawID("1"), Error: &RPCError{Code: -32600}}
	if !errResp.IsResponse() {
		t.Error("error response misclassified")
	}
}

func TestMessage_Valid(t *testing.T) {
	t.Parallel()

	valid := []Message{
		{JSONRPC: Version, ID: rawID("1"), Method: "m"},
		{JSONRPC: Version, Method: "m"},
		{JSONRPC: Version, ID: rawID("1"), Result: json.RawMessage(`{}`)},
		{JSONRPC: Version, ID: rawID(`"abc"`), Error: &RPCError{Code: 1}},
	}
	for i, m := range valid {
		if !m.Valid() {
			t.Errorf("valid[%d] rejected: %+v", i, m)
		}
	}

	invalid := []Message{
		{},
		{JSONRPC: "1.0", Method: "m"},
		{JSONRPC: Version},                 // nothing at all
		{JSONRPC: Version, ID: rawID("1")}, // id without result or error
	}
	for i, m := range invalid {
		if m.Valid() {
			t.Errorf("invalid[%d] accepted: %+v", i, m)
		}
	}
}

func TestSplitBatch(t *testing.T) {
	t.Parallel()

	msgs, isBatch, err := splitBatch([]byte(`{"jsonrpc":"2.0","id":1,"method":"a"}`))
	if err != nil || isBatch || len(msgs) != 1 {
		t.Fatalf("single: %v %v %d", err, isBatch, len(msgs))
	}
	if msgs[0].Method != "a" || idKey(msgs[0].ID) != "1" {
		t.Errorf("single decoded = %+v", msgs[0])
	}

	msgs, isBatch, err = splitBatch([]byte(`[{"jsonrpc":"2.0","method":"a"},{"jsonrpc":"2.0","id":"x","method":"b"}]`))
	if err != nil || !isBatch || len(msgs) != 2 {
		t.Fatalf("batch: %v %v %d", err, isBatch, len(msgs))
	}
	if idKey(msgs[1].ID) != `"x"` {
		t.Errorf("string id key = %q", idKey(msgs[1].ID))
	}

	if _, _, err := splitBatch([]byte(`{not json`)); err == nil {
		t.Error("malformed JSON should error")
	}
	if _, _, err := splitBatch([]byte(`[]`)); err == nil {
		t.Error("empty batch should error")
	}

	// Valid JSON but not a message object: comes back as a zero Message
	// that fails validation.
	msgs, _, err = splitBatch([]byte(`[42]`))
	if err != nil {
		t.Fatalf("non-object element: %v", err)
	}
	if msgs[0].Valid() {
		t.Error("non-object element should fail validation")
	}
}

func TestNewError_NullID(t *testing.T) {
	t.Parallel()

	msg := NewError(nil, CodeParseError, "parse error", nil)
	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"id":null`) {
		t.Errorf("parse errors must bind to a null id: %s", out)
	}
	if !strings.Contains(string(out), `-32700`) {
		t.Errorf("missing code: %s", out)
	}
}

func TestIDKey_DistinguishesStringAndNumber(t *testing.T) {
	t.Parallel()

	if idKey(rawID("1")) == idKey(rawID(`"1"`)) {
		t.Error(`number 1 and string "1" must be distinct ids`)
	}
	if idKey(nil) != "" {
		t.Error("nil id should key to empty string")
	}
}
