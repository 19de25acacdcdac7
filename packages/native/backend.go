package native

import (
	"context"
	"sync"

	"github.com/expr-lang/expr/vm"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/formula"
)

const DefaultCacheSize = 512

// Result is the outcome of one evaluation. cell errors have been replaced
// by nil and summarized in Warnings.
type Result struct {
	Values   []any
	Warnings []string
	// UsedFields lists the columns the formula read.
	UsedFields []string
}

// Backend evaluates formulas column-at-a-time in process. it is safe for
// concurrent use.
type Backend struct {
	builtins *Builtins
	programs *ExpressionTable
	vmPool   sync.Pool
}

type Option func(*Backend)

// WithClock replaces the time source of TODAY and NOW.
func WithClock(clock Clock) Option {
	return func(b *Backend) { b.builtins.clock = clock }
}

// WithRandom replaces the generator behind RAND.
func WithRandom(rng RandomGenerator) Option {
	return func(b *Backend) { b.builtins.rng = rng }
}

// WithCacheSize bounds the number of compiled programs kept.
func WithCacheSize(size int) Option {
	return func(b *Backend) { b.programs = NewExpressionTable(size) }
}

func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		builtins: NewDefaultBuiltins(),
		programs: NewExpressionTable(DefaultCacheSize),
		vmPool: sync.Pool{
			New: func() any {
				return new(vm.VM)
			},
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Programs() *ExpressionTable { return b.programs }

// Translate compiles a token tree without consulting the cache.
func (b *Backend) Translate(node formula.Node) (*VectorizedExpression, error) {
	return translate(node, b.builtins, &b.vmPool)
}

// Translate compiles a token tree with default builtins.
func Translate(node formula.Node) (*VectorizedExpression, error) {
	return NewBackend().Translate(node)
}

// Compile parses and translates text, reusing a cached program when the
// same token tree was compiled before.
func (b *Backend) Compile(text string) (*VectorizedExpression, error) {
	node, err := formula.Parse(text)
	if err != nil {
		return nil, err
	}
	return b.programs.Intern(node, b.Translate)
}

// Evaluate computes formula text for every record of table.
func (b *Backend) Evaluate(ctx context.Context, table *dataset.Table, text string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, err := b.Compile(text)
	if err != nil {
		return nil, err
	}
	values, err := compiled.Eval(table)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Values:     make([]any, len(values)),
		Warnings:   append([]string(nil), compiled.Warnings...),
		UsedFields: compiled.UsedFields,
	}
	var tally formula.ErrorTally
	for i, v := range values {
		if cellErr := checkForError(v); cellErr != nil {
			tally.Add(cellErr.Code, i+FirstDataRow)
			continue
		}
		result.Values[i] = v
	}
	result.Warnings = append(result.Warnings, tally.Warnings(formula.Normalize(text))...)
	return result, nil
}
