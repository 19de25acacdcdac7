// Package delegated evaluates formulas by driving an external automation host
// over JSON-RPC. every evaluation runs in its own session: one host process
// and one scratch workbook, torn down before Evaluate returns.
package delegated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/formula"
)

type Backend struct {
	opts Options
}

func NewBackend(opts Options) *Backend {
	return &Backend{opts: opts.withDefaults()}
}

// Evaluate adds one column per entry of formulas (result column name to
// formula text) and returns the extended table with the warnings collected
// on the way. formulas reading other result columns run after them.
func (b *Backend) Evaluate(ctx context.Context, table *dataset.Table, formulas map[string]string) (*dataset.Table, []string, error) {
	names := make([]string, 0, len(formulas))
	for name := range formulas {
		names = append(names, name)
	}
	slices.Sort(names)
	list := make([]formula.NamedFormula, len(names))
	for i, name := range names {
		list[i] = formula.NamedFormula{Name: name, Text: formulas[name]}
	}
	return b.EvaluateAll(ctx, table, list)
}

// Check parses every formula and verifies each field it reads is a table
// column or another result column. nothing is started.
func Check(table *dataset.Table, formulas []formula.NamedFormula) error {
	results := make(map[string]bool, len(formulas))
	for _, f := range formulas {
		if table.HasColumn(f.Name) {
			return fmt.Errorf("%w: result column %q already exists in the table", dataset.ErrDuplicateColumn, f.Name)
		}
		results[f.Name] = true
	}
	for _, f := range formulas {
		node, err := formula.Parse(f.Text)
		if err != nil {
			return err
		}
		var missing []string
		for _, field := range formula.FieldReferences(node) {
			if !table.HasColumn(field) && !results[field] {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return &formula.DependencyError{Formula: formula.Normalize(f.Text), Missing: missing}
		}
	}
	return nil
}

// Columns holds the typed values the host produced, keyed by result column
// name. a column missing from Values was omitted and Warnings says why.
type Columns struct {
	Values map[string][]any
	// Order lists the produced columns in evaluation order.
	Order []string
	// Failed holds the formulas the host rejected; the others still ran.
	Failed   map[string]error
	Warnings []string
}

// EvaluateColumns runs every formula in one session and returns the values
// exactly as the host reported them. losing the host fails the whole call
// with ErrResource.
func (b *Backend) EvaluateColumns(ctx context.Context, table *dataset.Table, formulas []formula.NamedFormula) (cols *Columns, err error) {
	if err := Check(table, formulas); err != nil {
		return nil, err
	}
	cols = &Columns{
		Values: make(map[string][]any, len(formulas)),
		Failed: make(map[string]error),
	}
	ordered, cyclic := formula.OrderFormulas(formulas)
	if cyclic {
		cols.Warnings = append(cols.Warnings, "result columns read each other in a loop; evaluated in the given order")
	}

	session := NewSession(b.opts)
	defer func() {
		if cerr := session.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := session.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := session.CreateScratchDocument(ctx); err != nil {
		return nil, err
	}
	if err := session.WriteTable(ctx, table); err != nil {
		return nil, err
	}

	for _, f := range ordered {
		app, err := session.ApplyFormula(ctx, f.Name, f.Text)
		if err != nil {
			if errors.Is(err, formula.ErrResource) || ctx.Err() != nil {
				return nil, err
			}
			b.opts.Logger.Warn("Host rejected formula",
				slog.String("column", f.Name),
				slog.String("error", err.Error()),
			)
			cols.Failed[f.Name] = err
			continue
		}
		cols.Warnings = append(cols.Warnings, app.Warnings...)
		if !app.Complete {
			continue
		}
		cols.Values[f.Name] = app.Values
		cols.Order = append(cols.Order, f.Name)
	}

	b.opts.Logger.Debug("Delegated evaluation finished",
		slog.Int("formulas", len(formulas)),
		slog.Int("failed", len(cols.Failed)),
		slog.Int("warnings", len(cols.Warnings)),
	)
	return cols, nil
}

// EvaluateAll is Evaluate with an explicit formula list. any formula the
// host rejects fails the call.
func (b *Backend) EvaluateAll(ctx context.Context, table *dataset.Table, formulas []formula.NamedFormula) (*dataset.Table, []string, error) {
	cols, err := b.EvaluateColumns(ctx, table, formulas)
	if err != nil {
		return nil, nil, err
	}
	var failed []error
	for _, f := range formulas {
		if ferr, ok := cols.Failed[f.Name]; ok {
			failed = append(failed, fmt.Errorf("result column %q: %w", f.Name, ferr))
		}
	}
	if len(failed) > 0 {
		return nil, nil, errors.Join(failed...)
	}

	out := table
	for _, name := range cols.Order {
		next, err := out.WithColumn(name, cols.Values[name])
		if err != nil {
			releaseIfDerived(out, table)
			return nil, nil, fmt.Errorf("add result column %q: %w", name, err)
		}
		releaseIfDerived(out, table)
		out = next
	}
	return out, cols.Warnings, nil
}

func releaseIfDerived(t, input *dataset.Table) {
	if t != input {
		t.Release()
	}
}
