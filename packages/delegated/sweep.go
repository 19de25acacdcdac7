package delegated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hostsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formula_host_sessions_started_total",
		Help: "Automation host processes started",
	})

	hostsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formula_host_processes_swept_total",
		Help: "Leftover automation host processes killed by a sweep",
	})
)

// FindHosts lists the pids of processes whose command line matches pattern.
// the calling process is never listed.
func FindHosts(ctx context.Context, pattern string) ([]int, error) {
	if pattern == "" {
		return nil, fmt.Errorf("sweep pattern must not be empty")
	}
	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	output, err := cmd.Output()
	if err != nil {
		// pgrep exits 1 when nothing matches
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep failed: %w", err)
	}

	self := os.Getpid()
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid == self {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Sweep kills every leftover host process matching pattern and returns the
// pids it killed. it is the last-resort recovery between jobs or at exit,
// never part of a normal session.
func Sweep(ctx context.Context, pattern string, logger *slog.Logger) ([]int, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pids, err := FindHosts(ctx, pattern)
	if err != nil {
		return nil, err
	}

	var killed []int
	var errs []error
	for _, pid := range pids {
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		if err := proc.Kill(); err != nil {
			if errors.Is(err, os.ErrProcessDone) {
				continue
			}
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			continue
		}
		killed = append(killed, pid)
		hostsSwept.Inc()
		logger.Warn("Killed leftover automation host", slog.Int("pid", pid), slog.String("pattern", pattern))
	}
	return killed, errors.Join(errs...)
}
