package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Version is the JSON-RPC version spoken on the wire.
const Version = "2.0"

// Request is a JSON-RPC request. an ID of zero marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type outgoingRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Protocol is the client half of a connection. requests may be sent from
// several goroutines while ReadLoop runs in its own.
type Protocol struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan Response
	pendingMu sync.Mutex
	closed    int32 // atomic: 1 if closed
}

// NewProtocol reads responses from r (the peer's stdout) and writes
// requests to w (the peer's stdin).
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
	}
}

// Call sends a request, waits for its response and decodes the result into
// out when out is non-nil.
func (p *Protocol) Call(ctx context.Context, method string, params, out any) error {
	resp, err := p.SendRequest(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, method, err)
	}
	return nil
}

// SendRequest sends a request and blocks until the response arrives or ctx
// is done.
func (p *Protocol) SendRequest(ctx context.Context, method string, params any) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, ErrConnectionClosed
	}

	id := atomic.AddInt64(&p.nextID, 1)
	respCh := make(chan Response, 1)
	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	req := outgoingRequest{JSONRPC: Version, ID: id, Method: method, Params: params}
	if err := writeMessage(p.writer, &p.writeMu, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if resp.Error != nil {
			return nil, &Error{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		return &resp, nil
	}
}

// SendNotification sends a message that gets no response.
func (p *Protocol) SendNotification(method string, params any) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrConnectionClosed
	}
	return writeMessage(p.writer, &p.writeMu, outgoingRequest{JSONRPC: Version, Method: method, Params: params})
}

// ReadLoop dispatches responses to waiting callers until the stream ends.
// it returns ErrPeerExited when the peer closes its end. the protocol is
// closed whenever the loop returns, so no caller waits on a dead stream.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}
	defer p.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := readMessage(p.reader)
		if err != nil {
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrPeerExited
			}
			return fmt.Errorf("read: %w", err)
		}
		p.handleMessage(msg)
	}
}

func (p *Protocol) handleMessage(msg json.RawMessage) {
	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil || resp.ID == 0 {
		// notifications from the peer are not used
		return
	}

	p.pendingMu.Lock()
	ch, ok := p.pending[resp.ID]
	p.pendingMu.Unlock()
	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// Close fails every pending request and refuses new ones. the underlying
// streams are left open.
func (p *Protocol) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}

	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for id, ch := range p.pending {
		select {
		case ch <- Response{
			JSONRPC: Version,
			ID:      id,
			Error: &ResponseError{
				Code:    CodeConnectionClosed,
				Message: "connection closed",
			},
		}:
		default:
		}
		delete(p.pending, id)
	}
}

// Closed reports whether Close has run.
func (p *Protocol) Closed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}

// writeMessage marshals v and writes it with a Content-Length header.
func writeMessage(w io.Writer, mu *sync.Mutex, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// readMessage reads one framed message body.
func readMessage(reader *bufio.Reader) (json.RawMessage, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if contentLength < 0 {
				// stray blank line between messages
				continue
			}
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		value = strings.TrimSpace(value)
		contentLength, err = strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Length value %q: %w", value, err)
		}
		if contentLength < 0 {
			return nil, fmt.Errorf("negative Content-Length: %d", contentLength)
		}
	}
	if contentLength == 0 {
		return nil, fmt.Errorf("zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
