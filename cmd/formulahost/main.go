// formulahost is the automation host started by the delegated backend. it
// speaks JSON-RPC on stdin and stdout and logs to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-formula-engine/packages/config"
	"github.com/vogtb/go-formula-engine/packages/hostserver"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "formulahost",
	Short:         "Spreadsheet automation host driven over stdio",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := config.NewLogger(config.LogConfig{Level: logLevel, Format: logFormat}, os.Stderr)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return hostserver.New(logger).Serve(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "formulahost:", err)
		os.Exit(1)
	}
}
