package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Handler answers one request. params is nil when the request has none. a
// returned *Error keeps its code; any other error becomes an internal error.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// ExitMethod is the notification that ends Serve.
const ExitMethod = "exit"

// Serve is the server half of a connection: it answers requests read from r
// on w, one at a time, until the exit notification, end of input or ctx is
// done. a clean end returns nil.
func Serve(ctx context.Context, r io.Reader, w io.Writer, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reader := bufio.NewReader(r)
	var writeMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := readMessage(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			logger.Warn("Dropping malformed message", slog.String("error", err.Error()))
			resp := Response{JSONRPC: Version, Error: &ResponseError{Code: CodeParseError, Message: err.Error()}}
			if err := writeMessage(w, &writeMu, resp); err != nil {
				return err
			}
			continue
		}

		if req.ID == 0 {
			if req.Method == ExitMethod {
				logger.Debug("Exit notification received")
				return nil
			}
			if _, err := handler.Handle(ctx, req.Method, req.Params); err != nil {
				logger.Warn("Notification failed",
					slog.String("method", req.Method),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		resp := Response{JSONRPC: Version, ID: req.ID}
		result, err := handler.Handle(ctx, req.Method, req.Params)
		if err != nil {
			resp.Error = toResponseError(err)
			logger.Debug("Request failed",
				slog.String("method", req.Method),
				slog.Int("code", resp.Error.Code),
				slog.String("error", resp.Error.Message),
			)
		} else if result != nil {
			data, err := json.Marshal(result)
			if err != nil {
				resp.Error = &ResponseError{Code: CodeInternalError, Message: fmt.Sprintf("marshal result: %v", err)}
			} else {
				resp.Result = data
			}
		}
		if err := writeMessage(w, &writeMu, resp); err != nil {
			return err
		}
	}
}

func toResponseError(err error) *ResponseError {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return &ResponseError{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data}
	}
	return &ResponseError{Code: CodeInternalError, Message: err.Error()}
}

// DecodeParams unmarshals request params into v. missing params leave v
// untouched.
func DecodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewError(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}
