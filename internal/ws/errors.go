package ws

import "errors"

var (
	ErrUpstreamClosed  = errors.New("upstream connection closed")
	ErrSendBufferFull  = errors.New("send buffer full")
	ErrHandshakeFailed = errors.New("websocket handshake rejected")
)
