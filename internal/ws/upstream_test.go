package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/provider"
)

func runLoop(t *testing.T) *provider.Loop {
	t.Helper()
	loop := provider.NewLoop(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)
	return loop
}

func TestUpstreamRoundTrip(t *testing.T) {
	node := newFakeNode(t)
	loop := runLoop(t)
	up := NewUpstream(UpstreamOptions{URL: node.url(), DialTimeout: time.Second}, zap.NewNop())

	got := make(chan string, 1)
	conn, err := up.Provider(context.Background(), loop, nil)(func(msg string) { got <- msg })
	require.NoError(t, err)
	defer conn.Disconnect()

	conn.Send(`{"jsonrpc":"2.0","id":1,"method":"system_name","params":[]}`)
	assert.Equal(t, "system_name", node.next(t).Get("method").String())

	node.write(t, `{"jsonrpc":"2.0","id":1,"result":"node"}`)
	select {
	case msg := <-got:
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":"node"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestUpstreamReportsNodeClose(t *testing.T) {
	node := newFakeNode(t)
	loop := runLoop(t)
	up := NewUpstream(UpstreamOptions{URL: node.url(), DialTimeout: time.Second}, zap.NewNop())

	closed := make(chan error, 1)
	conn, err := up.Provider(context.Background(), loop, func(err error) { closed <- err })(func(string) {})
	require.NoError(t, err)
	defer conn.Disconnect()

	// Wait until the node has the connection.
	conn.Send(`{"jsonrpc":"2.0","id":1,"method":"system_name","params":[]}`)
	node.next(t)
	node.hangUp()

	select {
	case err := <-closed:
		assert.True(t, errors.Is(err, ErrUpstreamClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("close not reported")
	}
}

func TestUpstreamDisconnectIsSilent(t *testing.T) {
	node := newFakeNode(t)
	loop := runLoop(t)
	up := NewUpstream(UpstreamOptions{URL: node.url(), DialTimeout: time.Second}, zap.NewNop())

	closed := make(chan error, 1)
	conn, err := up.Provider(context.Background(), loop, func(err error) { closed <- err })(func(string) {})
	require.NoError(t, err)
	conn.Disconnect()
	conn.Send(`{"jsonrpc":"2.0","id":1,"method":"system_name","params":[]}`)

	select {
	case err := <-closed:
		t.Fatalf("unexpected close notification: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUpstreamRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	up := NewUpstream(UpstreamOptions{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		DialTimeout: time.Second,
		RetryCount:  2,
		RetryDelay:  time.Millisecond,
	}, zap.NewNop())

	_, err := up.Provider(context.Background(), runLoop(t), nil)(func(string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestUpstreamDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	up := NewUpstream(UpstreamOptions{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		RetryCount: 3,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())

	_, err := up.Provider(context.Background(), runLoop(t), nil)(func(string) {})
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestUpstreamDetectCapability(t *testing.T) {
	node := newFakeNode(t, "qpowChainHead_v1_follow", "qpowChainHead_v1_unfollow")
	loop := runLoop(t)
	up := NewUpstream(UpstreamOptions{URL: node.url(), DialTimeout: time.Second}, zap.NewNop())

	ctx := context.Background()
	c, err := provider.DetectCapability(ctx, up.Provider(ctx, loop, nil), loop, time.Second)
	require.NoError(t, err)
	assert.Equal(t, provider.CapabilitySupported, c)
}
