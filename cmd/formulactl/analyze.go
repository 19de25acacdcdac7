package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-formula-engine/packages/formula"
	"github.com/vogtb/go-formula-engine/packages/reference"
)

var errInvalidFormula = errors.New("formula is not valid")

var validateCmd = &cobra.Command{
	Use:   "validate FORMULA",
	Short: "Check formula syntax",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result := formula.Validate(args[0])
		out := cmd.OutOrStdout()
		for _, w := range result.Warnings {
			fmt.Fprintln(out, "warning:", w)
		}
		if !result.OK {
			fmt.Fprintln(out, "invalid:", result.Reason)
			return errInvalidFormula
		}
		fmt.Fprintln(out, "ok")
		return nil
	},
}

var depsJSON bool

var depsCmd = &cobra.Command{
	Use:   "deps FORMULA",
	Short: "List the fields a formula reads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps := formula.ExtractDependencies(args[0])
		if depsJSON {
			if deps == nil {
				deps = formula.DependencySet{}
			}
			return writeJSON(cmd.OutOrStdout(), deps)
		}
		for _, d := range deps {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe FORMULA",
	Short: "Explain a formula in plain words",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), formula.Describe(args[0]))
		return nil
	},
}

var simplifyCmd = &cobra.Command{
	Use:   "simplify FORMULA",
	Short: "Remove redundant logic from a formula",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), formula.Simplify(args[0]))
		return nil
	},
}

var (
	convertOrigin string
	convertFrom   string
	convertTo     string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert cell references between A1 and relative notation",
}

var toRelativeCmd = &cobra.Command{
	Use:     "to-relative ADDRESS",
	Short:   "Express an A1 address or range relative to --origin",
	Example: "  formulactl convert to-relative '$A1:C3' --origin B2",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		origin, err := reference.ParseAddress(convertOrigin)
		if err != nil {
			return fmt.Errorf("--origin: %w", err)
		}
		if strings.Contains(args[0], ":") {
			rng, err := reference.ParseRange(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reference.RangeToRelative(rng, origin.Row, origin.Col))
			return nil
		}
		addr, err := reference.ParseAddress(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reference.ToRelative(addr, origin.Row, origin.Col))
		return nil
	},
}

var toAbsoluteCmd = &cobra.Command{
	Use:     "to-absolute R1C1",
	Short:   "Resolve a relative reference at --origin back to A1",
	Example: "  formulactl convert to-absolute 'R[-1]C[1]' --origin B2",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		origin, err := reference.ParseAddress(convertOrigin)
		if err != nil {
			return fmt.Errorf("--origin: %w", err)
		}
		parts := strings.Split(args[0], ":")
		rels := make([]reference.Relative, len(parts))
		for i, p := range parts {
			if rels[i], err = reference.ParseRelative(p); err != nil {
				return err
			}
		}
		switch len(rels) {
		case 1:
			addr, err := reference.ToAbsolute(rels[0], origin.Row, origin.Col)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
		case 2:
			rng, err := reference.RangeToAbsolute(reference.RelativeRange{Start: rels[0], End: rels[1]}, origin.Row, origin.Col)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rng)
		default:
			return fmt.Errorf("%w: %q", reference.ErrInvalidAddress, args[0])
		}
		return nil
	},
}

var adaptCmd = &cobra.Command{
	Use:     "adapt FORMULA",
	Short:   "Move a formula from one cell to another",
	Example: "  formulactl convert adapt '=A1*$B$1' --from C1 --to C5",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := reference.ParseAddress(convertFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := reference.ParseAddress(convertTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		adapted, err := reference.AdaptFormula(args[0], from.Row, from.Col, to.Row, to.Col)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), adapted)
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	depsCmd.Flags().BoolVar(&depsJSON, "json", false, "print a JSON array")

	for _, c := range []*cobra.Command{toRelativeCmd, toAbsoluteCmd} {
		c.Flags().StringVar(&convertOrigin, "origin", "A1", "cell the relative form is anchored at")
	}
	adaptCmd.Flags().StringVar(&convertFrom, "from", "", "cell the formula was written for")
	adaptCmd.Flags().StringVar(&convertTo, "to", "", "cell the formula moves to")
	_ = adaptCmd.MarkFlagRequired("from")
	_ = adaptCmd.MarkFlagRequired("to")

	convertCmd.AddCommand(toRelativeCmd, toAbsoluteCmd, adaptCmd)
}
