package provider

import "errors"

var (
	ErrClosed = errors.New("connection loop closed")
)
