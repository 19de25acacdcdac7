package rpc

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClosed = errors.New("rpc connection closed")
	ErrRequestTimeout   = errors.New("rpc request timeout")
	ErrPeerExited       = errors.New("rpc peer exited")
	ErrInvalidResponse  = errors.New("invalid rpc response")
)

// JSON-RPC error codes. -32099 to -32000 are reserved for the server.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeNotInitialized   = -32002
	CodeInvalidState     = -32001
	CodeConnectionClosed = -32099
)

// Error is an error returned by the peer.
type Error struct {
	Code    int
	Message string
	Data    any
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *Error) IsMethodNotFound() bool { return e.Code == CodeMethodNotFound }

func (e *Error) IsConnectionClosed() bool { return e.Code == CodeConnectionClosed }

// NewError builds an error a handler returns to choose the wire code.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsConnectionClosed reports whether err means the peer is gone.
func IsConnectionClosed(err error) bool {
	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr.IsConnectionClosed() {
		return true
	}
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrPeerExited)
}
