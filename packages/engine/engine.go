// Package engine is the entry point consumers use: validate and describe a
// formula, list what it reads, and evaluate it against a table with either
// backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vogtb/go-formula-engine/packages/config"
	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/delegated"
	"github.com/vogtb/go-formula-engine/packages/formula"
	"github.com/vogtb/go-formula-engine/packages/native"
)

// BackendKind selects how a formula is evaluated.
type BackendKind string

const (
	BackendNative    BackendKind = "native"
	BackendDelegated BackendKind = "delegated"
)

var (
	ErrUnknownBackend    = errors.New("unknown backend")
	ErrDelegatedDisabled = errors.New("delegated backend not configured")
	ErrEmptyFormulaText  = errors.New("formula text is required")
)

// Request asks for one formula over a table.
type Request struct {
	FormulaText string      `json:"formulaText" binding:"required"`
	DisplayName string      `json:"displayName"`
	Backend     BackendKind `json:"backend" binding:"omitempty,oneof=native delegated"`
}

func (r Request) name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return formula.Normalize(r.FormulaText)
}

func (r Request) backend() BackendKind {
	if r.Backend == "" {
		return BackendNative
	}
	return r.Backend
}

// Response holds one value per table row. a nil entry means the row could
// not be determined.
type Response struct {
	ResultColumn []any    `json:"resultColumn"`
	Warnings     []string `json:"warnings"`
}

// Failed reports whether row i has no value. callers count such rows as
// failures, never as passes.
func (r *Response) Failed(i int) bool {
	return i < 0 || i >= len(r.ResultColumn) || r.ResultColumn[i] == nil
}

// FailedRows counts the rows Failed reports.
func (r *Response) FailedRows() int {
	n := 0
	for i := range r.ResultColumn {
		if r.Failed(i) {
			n++
		}
	}
	return n
}

// DelegatedBackend evaluates a list of named formulas in one host session
// and returns the typed values of every column it produced.
type DelegatedBackend interface {
	EvaluateColumns(ctx context.Context, table *dataset.Table, formulas []formula.NamedFormula) (*delegated.Columns, error)
}

type Engine struct {
	native         *native.Backend
	delegated      DelegatedBackend
	logger         *slog.Logger
	maxConcurrency int
}

type Option func(*Engine)

func WithNative(b *native.Backend) Option {
	return func(e *Engine) { e.native = b }
}

func WithDelegated(b DelegatedBackend) Option {
	return func(e *Engine) { e.delegated = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxConcurrency bounds how many native evaluations a batch runs at once.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) { e.maxConcurrency = n }
}

// New builds an engine. without WithDelegated, delegated requests fail with
// ErrDelegatedDisabled.
func New(opts ...Option) *Engine {
	e := &Engine{maxConcurrency: 4}
	for _, opt := range opts {
		opt(e)
	}
	if e.native == nil {
		e.native = native.NewBackend()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.maxConcurrency < 1 {
		e.maxConcurrency = 1
	}
	return e
}

// FromConfig wires both backends from a loaded configuration.
func FromConfig(cfg config.Config, logger *slog.Logger) *Engine {
	return New(
		WithNative(native.NewBackend(native.WithCacheSize(cfg.Native.CacheSize))),
		WithDelegated(delegated.NewBackend(delegated.OptionsFromConfig(cfg.Host, logger))),
		WithLogger(logger),
		WithMaxConcurrency(cfg.Native.MaxConcurrency),
	)
}

func (e *Engine) Validate(text string) formula.ValidationResult {
	return formula.Validate(text)
}

func (e *Engine) Describe(text string) string {
	return formula.Describe(text)
}

func (e *Engine) ExtractDependencies(text string) formula.DependencySet {
	return formula.ExtractDependencies(text)
}

func (e *Engine) Simplify(text string) string {
	return formula.Simplify(text)
}

// Evaluate checks the formula, checks the table has every field it reads
// and runs the chosen backend. warnings go to a Collector logging through
// the engine's logger.
func (e *Engine) Evaluate(ctx context.Context, table *dataset.Table, req Request) (*Response, error) {
	return e.EvaluateWith(ctx, table, req, nil)
}

// EvaluateWith is Evaluate with an extra sink that sees every warning.
func (e *Engine) EvaluateWith(ctx context.Context, table *dataset.Table, req Request, diag Diagnostics) (*Response, error) {
	kind := req.backend()
	start := time.Now()
	collector := NewCollector(e.logger.With(slog.String("name", req.name()), slog.String("backend", string(kind))))
	sink := fanout{collector, diag}

	values, err := e.evaluate(ctx, table, req, kind, sink)
	evaluationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	evaluationsTotal.WithLabelValues(string(kind), outcomeOf(err)).Inc()
	if err != nil {
		e.logger.Debug("Evaluation failed",
			slog.String("name", req.name()),
			slog.String("backend", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	resp := &Response{ResultColumn: values, Warnings: collector.Warnings()}
	if n := resp.FailedRows(); n > 0 {
		undeterminedRows.WithLabelValues(string(kind)).Add(float64(n))
	}
	return resp, nil
}

func (e *Engine) evaluate(ctx context.Context, table *dataset.Table, req Request, kind BackendKind, sink Diagnostics) ([]any, error) {
	text, err := e.precheck(table, req, kind, sink)
	if err != nil {
		return nil, err
	}

	switch kind {
	case BackendNative:
		res, err := e.native.Evaluate(ctx, table, text)
		if err != nil {
			return nil, err
		}
		for _, w := range res.Warnings {
			sink.Warn(text, w)
		}
		return res.Values, nil
	case BackendDelegated:
		outcomes := e.runDelegated(ctx, table, []delegatedJob{{req: req, text: text, sink: sink}})
		return outcomes[0].values, outcomes[0].err
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
}

// precheck normalizes and validates the formula, then makes sure every
// field it reads exists. nothing is started before it passes.
func (e *Engine) precheck(table *dataset.Table, req Request, kind BackendKind, sink Diagnostics) (string, error) {
	switch kind {
	case BackendNative:
	case BackendDelegated:
		if e.delegated == nil {
			return "", ErrDelegatedDisabled
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}

	text := formula.Normalize(req.FormulaText)
	if text == "" {
		return "", ErrEmptyFormulaText
	}
	result := formula.Validate(text)
	if err := result.Err(text); err != nil {
		return "", err
	}
	for _, w := range result.Warnings {
		sink.Warn(text, w)
	}

	node, err := formula.Parse(text)
	if err != nil {
		return "", err
	}
	var missing []string
	for _, field := range formula.FieldReferences(node) {
		if !table.HasColumn(field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return "", &formula.DependencyError{Formula: text, Missing: missing}
	}
	return text, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, formula.ErrSyntax):
		return outcomeSyntax
	case errors.Is(err, formula.ErrDependency):
		return outcomeDependency
	case errors.Is(err, formula.ErrTranslation):
		return outcomeTranslate
	case errors.Is(err, formula.ErrResource):
		return outcomeResource
	}
	return outcomeOther
}

// fanout sends each warning to every non-nil sink.
type fanout []Diagnostics

func (f fanout) Warn(formulaText, message string) {
	for _, d := range f {
		if d != nil {
			d.Warn(formulaText, message)
		}
	}
}
