package provider

import (
	"strings"

	"github.com/dgnsrekt/chainhead-bridge/internal/rpc"
)

// Remap renames the canonical chain-head family to the qpow family on the
// way out and back on the way in. Only the method field is touched.
func Remap(p Provider) Provider {
	return func(onMessage MessageHandler) (Conn, error) {
		inner, err := p(func(msg string) {
			onMessage(renameMethod(msg, rpc.QPoWPrefix, rpc.RestoreMethod))
		})
		if err != nil {
			return nil, err
		}
		return connFuncs{
			send: func(msg string) {
				inner.Send(renameMethod(msg, rpc.CanonicalPrefix, rpc.RewriteMethod))
			},
			disconnect: inner.Disconnect,
		}, nil
	}
}

func renameMethod(msg, prefix string, rename func(string) string) string {
	// Cheap reject before parsing; most traffic carries neither prefix.
	if !strings.Contains(msg, prefix) {
		return msg
	}
	f, ok := rpc.Parse(msg)
	if !ok {
		return msg
	}
	method := f.Method()
	if !strings.HasPrefix(method, prefix) {
		return msg
	}
	out, err := rpc.SetMethod(msg, rename(method))
	if err != nil {
		return msg
	}
	return out
}
