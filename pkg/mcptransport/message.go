package mcptransport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the JSON-RPC protocol version stamped on outgoing messages.
const Version = "2.0"

// Message is a single JSON-RPC 2.0 request, notification or response. Params,
// Result and ID stay raw so callers decode them into their own types.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the error object of a JSON-RPC response.
type WireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes used by MCP servers.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NewRequest builds a request for method. A nil params is omitted from the
// wire. The id is left empty so the session assigns one.
func NewRequest(method string, params any) (*Message, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("mcptransport: encode %s params: %w", method, err)
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewNotification builds a message with no id.
func NewNotification(method string, params any) (*Message, error) {
	return NewRequest(method, params)
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// StringID encodes s as a JSON string id.
func StringID(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// IntID encodes n as a JSON number id.
func IntID(n int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(n, 10))
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool { return m.IDKey() != "" }

// IDKey normalizes the id into a map key: strings are used verbatim and
// numbers by their decimal text, so a server echoing "7" or 7 correlates with
// the same request. Null or missing ids yield "".
func (m *Message) IDKey() string {
	return idKey(m.ID)
}

func idKey(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

// IsResponse reports whether the message answers a request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.HasID() && (m.Result != nil || m.Error != nil)
}

// IsNotification reports whether the message is server-initiated.
func (m *Message) IsNotification() bool { return m.Method != "" }

// looksLikeRPC reports whether at least one of jsonrpc, id or method is set.
func (m *Message) looksLikeRPC() bool {
	return m.JSONRPC != "" || len(m.ID) > 0 || m.Method != ""
}

// decodeFrame parses one JSON object or a JSON array batch.
func decodeFrame(data []byte) ([]*Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, err
		}
		out := make([]*Message, 0, len(batch))
		for _, item := range batch {
			var msg Message
			if err := json.Unmarshal(item, &msg); err != nil {
				return nil, err
			}
			out = append(out, &msg)
		}
		return out, nil
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return []*Message{&msg}, nil
}
