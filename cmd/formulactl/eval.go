package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-formula-engine/packages/api"
	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/delegated"
	"github.com/vogtb/go-formula-engine/packages/engine"
)

var (
	evalBackend string
	evalInput   string
	evalSheet   string
	evalName    string
	evalOutput  string
)

var evalCmd = &cobra.Command{
	Use:   "eval FORMULA",
	Short: "Evaluate a formula for every row of a table",
	Long: `Evaluate a formula for every row of an .xlsx or .csv table and write the
table with the result column appended as CSV. rows that could not be
determined are left empty and reported as warnings on stderr.`,
	Example: `  formulactl eval '=IF(Status="Active","Yes","No")' --input data.csv
  formulactl eval '=YEAR([Submit Date])' --input data.xlsx --backend delegated`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := dataset.Load(evalInput, evalSheet)
		if err != nil {
			return fmt.Errorf("load %s: %w", evalInput, err)
		}
		defer table.Release()

		e := engine.FromConfig(cfg, logger)
		req := engine.Request{
			FormulaText: args[0],
			DisplayName: evalName,
			Backend:     engine.BackendKind(evalBackend),
		}
		resp, err := e.Evaluate(cmd.Context(), table, req)
		if err != nil {
			return err
		}
		for _, w := range resp.Warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}

		name := evalName
		if name == "" {
			name = "Result"
		}
		out, err := table.WithColumn(name, resp.ResultColumn)
		if err != nil {
			return err
		}
		defer out.Release()

		if evalOutput == "" || evalOutput == "-" {
			return out.WriteCSV(cmd.OutOrStdout())
		}
		f, err := os.Create(evalOutput)
		if err != nil {
			return err
		}
		if err := out.WriteCSV(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Kill automation host processes left behind by crashed runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := filepath.Base(cfg.Host.Command)
		if sweepDryRun {
			pids, err := delegated.FindHosts(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			for _, pid := range pids {
				fmt.Fprintln(cmd.OutOrStdout(), pid)
			}
			return nil
		}
		pids, err := delegated.Sweep(cmd.Context(), pattern, logger)
		fmt.Fprintf(cmd.OutOrStdout(), "swept %d host process(es)\n", len(pids))
		return err
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the formula API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		handlers := api.NewHandlers(engine.FromConfig(cfg, logger), logger, version)
		err := api.Serve(cmd.Context(), addr, handlers)
		if err != nil && !errors.Is(err, cmd.Context().Err()) {
			logger.Error("Server stopped", slog.String("error", err.Error()))
		}
		return err
	},
}

func init() {
	evalCmd.Flags().StringVarP(&evalBackend, "backend", "b", string(engine.BackendNative), "native or delegated")
	evalCmd.Flags().StringVarP(&evalInput, "input", "i", "", "input table (.xlsx or .csv)")
	evalCmd.Flags().StringVar(&evalSheet, "sheet", "", "worksheet to read from an .xlsx input")
	evalCmd.Flags().StringVarP(&evalName, "name", "n", "", "name of the result column")
	evalCmd.Flags().StringVarP(&evalOutput, "output", "o", "-", "output CSV file, - for stdout")
	_ = evalCmd.MarkFlagRequired("input")

	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "only list the processes")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides server.addr")
}
