package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeNode is a JSON-RPC websocket node. It answers rpc_methods with its
// method list and records every other frame.
type fakeNode struct {
	server   *httptest.Server
	methods  []string
	received chan string

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeNode(t *testing.T, methods ...string) *fakeNode {
	t.Helper()
	n := &fakeNode{methods: methods, received: make(chan string, 64)}
	upgrader := websocket.Upgrader{}
	n.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n.mu.Lock()
		n.conn = conn
		n.mu.Unlock()
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg := gjson.ParseBytes(data)
			if msg.Get("method").String() == "rpc_methods" {
				n.write(t, `{"jsonrpc":"2.0","id":`+msg.Get("id").Raw+`,"result":{"methods":`+jsonList(n.methods)+`}}`)
				continue
			}
			n.received <- string(data)
		}
	}))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNode) write(t *testing.T, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotNil(t, n.conn, "no connection to write to")
	_ = n.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// hangUp closes the node side of the current connection.
func (n *fakeNode) hangUp() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		_ = n.conn.Close()
	}
}

func (n *fakeNode) next(t *testing.T) gjson.Result {
	t.Helper()
	select {
	case msg := <-n.received:
		return gjson.Parse(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("node received nothing")
		return gjson.Result{}
	}
}

func jsonList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	return `["` + strings.Join(items, `","`) + `"]`
}

func readFrame(t *testing.T, conn *websocket.Conn) gjson.Result {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return gjson.ParseBytes(data)
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}
