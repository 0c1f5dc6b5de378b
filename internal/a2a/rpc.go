package a2a

import (
	"encoding/json"
	"fmt"
)

// MethodSendMessage is the only method a capability agent serves.
const MethodSendMessage = "message/send"

// JSON-RPC 2.0 error codes. ErrCodeUnsupportedCapability is returned when an
// agent has no skill for the requested capability.
const (
	ErrCodeParse                 = -32700
	ErrCodeInvalidRequest        = -32600
	ErrCodeMethodNotFound        = -32601
	ErrCodeInvalidParams         = -32602
	ErrCodeInternal              = -32603
	ErrCodeUnsupportedCapability = -32004
)

// envelope is one JSON-RPC 2.0 message in either direction. Requests carry
// Method and Params, responses carry Result or Error.
type envelope struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func request(id int64, method string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("a2a: %s: encode params: %w", method, err)
	}
	return json.Marshal(envelope{
		Version: "2.0",
		ID:      json.RawMessage(fmt.Sprint(id)),
		Method:  method,
		Params:  raw,
	})
}

func reply(id json.RawMessage, result any) envelope {
	raw, err := json.Marshal(result)
	if err != nil {
		return fault(id, ErrCodeInternal, "encode result: "+err.Error())
	}
	return envelope{Version: "2.0", ID: id, Result: raw}
}

func fault(id json.RawMessage, code int, msg string) envelope {
	return envelope{Version: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}

// RPCError is a JSON-RPC error object. Handlers return it to pick the error
// code; clients get it back with Method filled in.
type RPCError struct {
	Method  string          `json:"-"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	msg := fmt.Sprintf("a2a: %s: rpc error %d: %s", e.Method, e.Code, e.Message)
	if len(e.Data) > 0 {
		msg += " (data: " + string(e.Data) + ")"
	}
	return msg
}

// TransportError is a failure to reach the agent or a non-200 HTTP reply.
// Status is zero when no response was received.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("a2a: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("a2a: %s: HTTP %d: %v", e.Op, e.Status, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
