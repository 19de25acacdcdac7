package delegated

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/vogtb/go-formula-engine/packages/rpc"
)

// HostState is the lifecycle state of a host process.
type HostState int

const (
	HostStateUninitialized HostState = iota
	HostStateStarting
	HostStateRunning
	HostStateStopping
	HostStateStopped
)

func (s HostState) String() string {
	names := []string{"uninitialized", "starting", "running", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

var (
	ErrHostNotInstalled   = errors.New("automation host not installed")
	ErrHostAlreadyStarted = errors.New("automation host already started")
	ErrHostNotRunning     = errors.New("automation host not running")
)

// Host is one running automation host process spoken to over its stdio.
type Host struct {
	command         string
	args            []string
	env             []string
	stderr          io.Writer
	shutdownTimeout time.Duration
	logger          *slog.Logger

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	protocol *rpc.Protocol

	state   HostState
	killed  bool
	stateMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}
}

func newHost(opts Options, logger *slog.Logger) *Host {
	return &Host{
		command:         opts.Command,
		args:            opts.Args,
		env:             opts.Env,
		stderr:          opts.Stderr,
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          logger,
		state:           HostStateUninitialized,
		readDone:        make(chan struct{}),
	}
}

// Start launches the process and its read loop. the process outlives ctx;
// only Stop ends it.
func (h *Host) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	h.stateMu.Lock()
	if h.state != HostStateUninitialized {
		h.stateMu.Unlock()
		return ErrHostAlreadyStarted
	}
	h.state = HostStateStarting
	h.stateMu.Unlock()

	path, err := exec.LookPath(h.command)
	if err != nil {
		h.setState(HostStateStopped)
		h.logger.Warn("Automation host not installed", slog.String("command", h.command))
		return fmt.Errorf("%w: %s", ErrHostNotInstalled, h.command)
	}

	h.logger.Info("Starting automation host",
		slog.String("command", path),
		slog.Any("args", h.args),
	)

	// independent of the caller's context
	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.cmd = exec.CommandContext(h.ctx, path, h.args...)
	if len(h.env) > 0 {
		h.cmd.Env = h.env
	}
	h.cmd.Stderr = h.stderr

	h.stdin, err = h.cmd.StdinPipe()
	if err != nil {
		h.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	h.stdout, err = h.cmd.StdoutPipe()
	if err != nil {
		h.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := h.cmd.Start(); err != nil {
		h.cleanup()
		return fmt.Errorf("start process: %w", err)
	}

	h.protocol = rpc.NewProtocol(h.stdout, h.stdin)
	go func() {
		defer close(h.readDone)
		if err := h.protocol.ReadLoop(h.ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Debug("Host read loop ended", slog.String("error", err.Error()))
		}
	}()

	h.setState(HostStateRunning)
	h.logger.Debug("Automation host running", slog.Int("pid", h.PID()))
	return nil
}

// Call sends one request and decodes its result into out.
func (h *Host) Call(ctx context.Context, method string, params, out any) error {
	if h.State() != HostStateRunning {
		return ErrHostNotRunning
	}
	return h.protocol.Call(ctx, method, params, out)
}

// Stop asks the host to shut down, then kills it if it has not exited
// within the shutdown timeout. safe to call more than once.
func (h *Host) Stop(ctx context.Context) error {
	h.stateMu.Lock()
	if h.state == HostStateStopped || h.state == HostStateStopping || h.state == HostStateUninitialized {
		h.state = HostStateStopped
		h.stateMu.Unlock()
		return nil
	}
	h.state = HostStateStopping
	h.stateMu.Unlock()

	h.logger.Debug("Stopping automation host", slog.Int("pid", h.PID()))
	defer h.cleanup()

	if h.protocol != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTimeout)
		_, _ = h.protocol.SendRequest(shutdownCtx, rpc.MethodShutdown, nil)
		cancel()
		_ = h.protocol.SendNotification(rpc.ExitMethod, nil)
		h.protocol.Close()
	}

	// EOF on stdin ends the host even if it missed the exit notification
	if h.stdin != nil {
		_ = h.stdin.Close()
	}

	var killed bool
	if h.cmd != nil && h.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- h.cmd.Wait() }()

		select {
		case <-time.After(h.shutdownTimeout):
			h.logger.Warn("Automation host did not exit, killing it", slog.Int("pid", h.PID()))
			_ = h.cmd.Process.Kill()
			<-done
			killed = true
		case <-done:
		}
	}

	if killed {
		h.stateMu.Lock()
		h.killed = true
		h.stateMu.Unlock()
	}
	if h.cancel != nil {
		h.cancel()
	}
	select {
	case <-h.readDone:
	case <-time.After(time.Second):
	}

	h.logger.Info("Automation host stopped", slog.Bool("killed", killed))
	return nil
}

func (h *Host) cleanup() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.stdin != nil {
		_ = h.stdin.Close()
	}
	if h.stdout != nil {
		_ = h.stdout.Close()
	}
	h.setState(HostStateStopped)
}

func (h *Host) State() HostState {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// PID is the process id, or 0 before the process starts.
func (h *Host) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Killed reports whether Stop had to kill the process.
func (h *Host) Killed() bool {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.killed
}

// Exited reports whether the process has ended.
func (h *Host) Exited() bool {
	return h.cmd != nil && h.cmd.ProcessState != nil
}

func (h *Host) setState(state HostState) {
	h.stateMu.Lock()
	h.state = state
	h.stateMu.Unlock()
}
