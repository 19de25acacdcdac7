package delegated

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/vogtb/go-formula-engine/packages/config"
)

// ScratchPrefix starts the name of every scratch workbook.
const ScratchPrefix = "formula-scratch-"

// Options configure how sessions start and tear down their host.
type Options struct {
	Command         string
	Args            []string
	Env             []string
	Stderr          io.Writer
	SheetName       string
	TempDir         string
	StartTimeout    time.Duration
	ShutdownTimeout time.Duration
	Retry           config.RetryConfig
	Logger          *slog.Logger
}

// OptionsFromConfig maps the host section of the configuration.
func OptionsFromConfig(cfg config.HostConfig, logger *slog.Logger) Options {
	return Options{
		Command:         cfg.Command,
		Args:            cfg.Args,
		SheetName:       cfg.SheetName,
		TempDir:         cfg.TempDir,
		StartTimeout:    cfg.StartTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Retry:           cfg.CleanupRetry,
		Logger:          logger,
	}
}

func (o Options) withDefaults() Options {
	def := config.Default().Host
	if o.Command == "" {
		o.Command = def.Command
	}
	if o.SheetName == "" {
		o.SheetName = def.SheetName
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = def.StartTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = def.ShutdownTimeout
	}
	if o.Retry.InitialInterval <= 0 {
		o.Retry = def.CleanupRetry
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
