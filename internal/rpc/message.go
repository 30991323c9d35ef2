package rpc

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// nullID is used when a frame being answered carried no id at all.
var nullID = json.RawMessage("null")

// Frame is a read-only view over one JSON-RPC text frame. It never
// re-encodes the frame, so untouched fields keep their exact bytes.
type Frame struct {
	raw  string
	root gjson.Result
}

// Parse returns a view over msg. ok is false for anything that is not a
// well-formed JSON object.
func Parse(msg string) (f Frame, ok bool) {
	if !gjson.Valid(msg) {
		return Frame{}, false
	}
	root := gjson.Parse(msg)
	if !root.IsObject() {
		return Frame{}, false
	}
	return Frame{raw: msg, root: root}, true
}

func (f Frame) Raw() string { return f.raw }

// Get looks up a gjson path inside the frame.
func (f Frame) Get(path string) gjson.Result { return f.root.Get(path) }

// Method returns the method name, or "" when absent or not a string.
func (f Frame) Method() string {
	m := f.root.Get("method")
	if m.Type != gjson.String {
		return ""
	}
	return m.Str
}

// RawID returns the id exactly as encoded in the frame, or null.
func (f Frame) RawID() json.RawMessage {
	id := f.root.Get("id")
	if !id.Exists() {
		return nullID
	}
	return json.RawMessage(id.Raw)
}

// StringID returns the id when it is a JSON string.
func (f Frame) StringID() (string, bool) {
	id := f.root.Get("id")
	if id.Type != gjson.String {
		return "", false
	}
	return id.Str, true
}

// IsResponse reports whether the frame answers a request.
func (f Frame) IsResponse() bool {
	if f.Method() != "" || !f.root.Get("id").Exists() {
		return false
	}
	return f.root.Get("result").Exists() || f.root.Get("error").Exists()
}

// Param returns the i-th positional parameter.
func (f Frame) Param(i int) gjson.Result {
	params := f.root.Get("params")
	if !params.IsArray() {
		return gjson.Result{}
	}
	arr := params.Array()
	if i < 0 || i >= len(arr) {
		return gjson.Result{}
	}
	return arr[i]
}

// SubscriptionToken returns params.subscription of a notification.
func (f Frame) SubscriptionToken() string {
	return f.root.Get("params.subscription").String()
}

// SetMethod rewrites the method field of msg in place, leaving every other
// byte of the frame as it was.
func SetMethod(msg, method string) (string, error) {
	return sjson.Set(msg, "method", method)
}

// NormalizeHash prepends 0x to a non-empty hex hash lacking it.
func NormalizeHash(hash string) string {
	if hash == "" || strings.HasPrefix(hash, "0x") {
		return hash
	}
	return "0x" + hash
}

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type request struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  []any           `json:"params"`
}

type resultResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type errorResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   ErrorObject     `json:"error"`
}

type notification struct {
	Version string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  subscriptionParams `json:"params"`
}

type subscriptionParams struct {
	Subscription string `json:"subscription"`
	Result       any    `json:"result"`
}

// NewRequest encodes a request with a string id. Params is always an array.
func NewRequest(id, method string, params ...any) string {
	raw, _ := json.Marshal(id)
	return NewRequestRaw(raw, method, params...)
}

// NewRequestRaw encodes a request reusing an id exactly as another frame
// carried it.
func NewRequestRaw(id json.RawMessage, method string, params ...any) string {
	if len(id) == 0 {
		id = nullID
	}
	if params == nil {
		params = []any{}
	}
	data, _ := json.Marshal(request{Version: Version, ID: id, Method: method, Params: params})
	return string(data)
}

// NewResult encodes a success response echoing id.
func NewResult(id json.RawMessage, result any) string {
	if len(id) == 0 {
		id = nullID
	}
	data, _ := json.Marshal(resultResponse{Version: Version, ID: id, Result: result})
	return string(data)
}

// NewError encodes an error response echoing id.
func NewError(id json.RawMessage, code int, message string, data any) string {
	if len(id) == 0 {
		id = nullID
	}
	out, _ := json.Marshal(errorResponse{
		Version: Version,
		ID:      id,
		Error:   ErrorObject{Code: code, Message: message, Data: data},
	})
	return string(out)
}

// NewNotification encodes a subscription notification.
func NewNotification(method, subscription string, result any) string {
	data, _ := json.Marshal(notification{
		Version: Version,
		Method:  method,
		Params:  subscriptionParams{Subscription: subscription, Result: result},
	})
	return string(data)
}
