package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipePair struct {
	client    *Protocol
	serveErr  chan error
	toServer  *io.PipeWriter
	toClient  *io.PipeWriter
	readLoop  chan error
	cancelAll context.CancelFunc
}

func startPair(t *testing.T, handler Handler) *pipePair {
	t.Helper()
	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	p := &pipePair{
		client:    NewProtocol(clientIn, clientOut),
		serveErr:  make(chan error, 1),
		toServer:  clientOut,
		toClient:  serverOut,
		readLoop:  make(chan error, 1),
		cancelAll: cancel,
	}
	go func() {
		err := Serve(ctx, serverIn, serverOut, handler, nil)
		serverOut.Close()
		p.serveErr <- err
	}()
	go func() {
		p.readLoop <- p.client.ReadLoop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		clientOut.Close()
		serverOut.Close()
	})
	return p
}

func echoHandler() HandlerFunc {
	return func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		switch method {
		case "echo":
			var v map[string]any
			if err := DecodeParams(params, &v); err != nil {
				return nil, err
			}
			return v, nil
		case "fail":
			return nil, NewError(CodeInvalidState, "not now")
		case "boom":
			return nil, errors.New("something broke")
		case "nothing":
			return nil, nil
		}
		return nil, NewError(CodeMethodNotFound, "method %q not found", method)
	}
}

func TestCallRoundTrip(t *testing.T) {
	p := startPair(t, echoHandler())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out map[string]any
	require.NoError(t, p.client.Call(ctx, "echo", map[string]any{"a": 1.5, "b": "x"}, &out))
	assert.Equal(t, map[string]any{"a": 1.5, "b": "x"}, out)

	require.NoError(t, p.client.Call(ctx, "nothing", nil, nil))
}

func TestCallErrors(t *testing.T) {
	p := startPair(t, echoHandler())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.client.Call(ctx, "fail", nil, nil)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidState, rpcErr.Code)
	assert.Equal(t, "not now", rpcErr.Message)

	err = p.client.Call(ctx, "boom", nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInternalError, rpcErr.Code)

	err = p.client.Call(ctx, "missing", nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.True(t, rpcErr.IsMethodNotFound())

	err = p.client.Call(ctx, "echo", "not an object", nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestConcurrentCalls(t *testing.T) {
	p := startPair(t, echoHandler())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out map[string]float64
			err := p.client.Call(ctx, "echo", map[string]int{"i": i}, &out)
			assert.NoError(t, err)
			assert.Equal(t, float64(i), out["i"])
		}(i)
	}
	wg.Wait()
}

func TestExitEndsServe(t *testing.T) {
	p := startPair(t, echoHandler())
	require.NoError(t, p.client.SendNotification(ExitMethod, nil))

	select {
	case err := <-p.serveErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	select {
	case err := <-p.readLoop:
		assert.ErrorIs(t, err, ErrPeerExited)
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not stop")
	}
	assert.True(t, p.client.Closed())

	err := p.client.Call(context.Background(), "echo", nil, nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.True(t, IsConnectionClosed(err))
}

func TestCloseFailsPendingRequests(t *testing.T) {
	block := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	p := startPair(t, handler)
	defer close(block)

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.client.Call(context.Background(), "slow", nil, nil)
	}()

	require.Eventually(t, func() bool {
		p.client.pendingMu.Lock()
		defer p.client.pendingMu.Unlock()
		return len(p.client.pending) == 1
	}, 5*time.Second, 5*time.Millisecond)

	p.client.Close()
	p.client.Close()

	select {
	case err := <-errCh:
		assert.True(t, IsConnectionClosed(err))
	case <-time.After(5 * time.Second):
		t.Fatal("pending call was not failed")
	}
}

func TestFramingErrorFailsPendingRequests(t *testing.T) {
	in, fromPeer := io.Pipe()
	defer fromPeer.Close()
	client := NewProtocol(in, io.Discard)

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- client.ReadLoop(context.Background())
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Call(context.Background(), "slow", nil, nil)
	}()
	require.Eventually(t, func() bool {
		client.pendingMu.Lock()
		defer client.pendingMu.Unlock()
		return len(client.pending) == 1
	}, 5*time.Second, 5*time.Millisecond)

	_, err := io.WriteString(fromPeer, "Content-Length: abc\r\n\r\n")
	require.NoError(t, err)

	select {
	case err := <-loopErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid Content-Length")
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not stop")
	}
	select {
	case err := <-errCh:
		assert.True(t, IsConnectionClosed(err))
	case <-time.After(5 * time.Second):
		t.Fatal("pending call was not failed")
	}
	assert.True(t, client.Closed())
}

func TestRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	p := startPair(t, handler)
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.client.Call(ctx, "slow", nil, nil)
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

func TestReadMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{
			name:  "simple",
			input: "Content-Length: 2\r\n\r\n{}",
			want:  "{}",
		},
		{
			name:  "lowercase header and extra header",
			input: "content-length: 4\r\nContent-Type: application/json\r\n\r\nnull",
			want:  "null",
		},
		{
			name:  "stray blank lines",
			input: "\r\n\r\nContent-Length: 2\r\n\r\n[]",
			want:  "[]",
		},
		{
			name:    "bad length",
			input:   "Content-Length: abc\r\n\r\n",
			wantErr: "invalid Content-Length",
		},
		{
			name:    "zero length",
			input:   "Content-Length: 0\r\n\r\n",
			wantErr: "zero Content-Length",
		},
		{
			name:    "short body",
			input:   "Content-Length: 10\r\n\r\n{}",
			wantErr: "read body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := readMessage(bufio.NewReader(strings.NewReader(tt.input)))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(msg))
		})
	}
}

func TestWriteMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	require.NoError(t, writeMessage(&buf, &mu, map[string]int{"x": 1}))
	assert.Equal(t, "Content-Length: 7\r\n\r\n{\"x\":1}", buf.String())
}

func TestServeAnswersMalformedMessage(t *testing.T) {
	var in bytes.Buffer
	var mu sync.Mutex
	body := "{not json"
	in.WriteString("Content-Length: 9\r\n\r\n" + body)
	require.NoError(t, writeMessage(&in, &mu, outgoingRequest{JSONRPC: Version, Method: ExitMethod}))

	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), &in, &out, echoHandler(), nil))

	msg, err := readMessage(bufio.NewReader(&out))
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(msg, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestCellValue(t *testing.T) {
	when := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   any
		kind string
		want any
	}{
		{nil, KindEmpty, nil},
		{12.5, KindNumber, 12.5},
		{"abc", KindText, "abc"},
		{true, KindBool, true},
		{false, KindBool, false},
		{when, KindDate, when},
		{7, KindText, "7"},
	}
	for _, tt := range tests {
		cv := EncodeValue(tt.in)
		assert.Equal(t, tt.kind, cv.Kind)

		data, err := json.Marshal(cv)
		require.NoError(t, err)
		var back CellValue
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, tt.want, back.Value())
	}

	errCell := CellValue{Kind: KindError, Text: "#DIV/0!"}
	assert.True(t, errCell.IsError())
	assert.Equal(t, "#DIV/0!", errCell.Value())
}
