package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-formula-engine/packages/config"
	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/delegated"
	"github.com/vogtb/go-formula-engine/packages/formula"
	"github.com/vogtb/go-formula-engine/packages/rpc"
)

func newTable(t *testing.T, names []string, rows ...[]any) *dataset.Table {
	t.Helper()
	table, err := dataset.FromRows(names, rows)
	require.NoError(t, err)
	t.Cleanup(table.Release)
	return table
}

func sampleTable(t *testing.T) *dataset.Table {
	return newTable(t, []string{"Value", "Status"},
		[]any{150, "Active"},
		[]any{50, "Active"},
		[]any{500, "Closed"},
	)
}

// fakeDelegated evaluates with a fixed answer per formula text and records
// what it was asked.
type fakeDelegated struct {
	mu       sync.Mutex
	calls    [][]formula.NamedFormula
	columns  map[string][]any
	rejected map[string]error
	warnings []string
	err      error
}

func (f *fakeDelegated) EvaluateColumns(_ context.Context, _ *dataset.Table, formulas []formula.NamedFormula) (*delegated.Columns, error) {
	f.mu.Lock()
	f.calls = append(f.calls, formulas)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	cols := &delegated.Columns{
		Values:   map[string][]any{},
		Failed:   map[string]error{},
		Warnings: f.warnings,
	}
	for _, nf := range formulas {
		if err, ok := f.rejected[nf.Text]; ok {
			cols.Failed[nf.Name] = err
			continue
		}
		if values, ok := f.columns[nf.Text]; ok {
			cols.Values[nf.Name] = values
			cols.Order = append(cols.Order, nf.Name)
		}
	}
	return cols, nil
}

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) Warn(formulaText, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, formulaText+" | "+message)
}

func TestEvaluateNative(t *testing.T) {
	table := sampleTable(t)
	e := New()

	resp, err := e.Evaluate(context.Background(), table, Request{FormulaText: `=IF(Status="Active","Yes","No")`})
	require.NoError(t, err)
	assert.Equal(t, []any{"Yes", "Yes", "No"}, resp.ResultColumn)
	assert.NotNil(t, resp.Warnings)
	assert.Empty(t, resp.Warnings)

	resp, err = e.Evaluate(context.Background(), table, Request{FormulaText: `AND(Value>100, Status="Active")`, Backend: BackendNative})
	require.NoError(t, err)
	assert.Equal(t, []any{true, false, false}, resp.ResultColumn)
	assert.Zero(t, resp.FailedRows())
}

func TestEvaluateUndeterminedRows(t *testing.T) {
	table := newTable(t, []string{"Value"}, []any{10}, []any{20}, []any{30})
	diag := &recorder{}

	resp, err := New().EvaluateWith(context.Background(), table, Request{FormulaText: "=1/(Value-20)"}, diag)
	require.NoError(t, err)
	assert.Equal(t, []any{-0.1, nil, 0.1}, resp.ResultColumn)
	assert.False(t, resp.Failed(0))
	assert.True(t, resp.Failed(1))
	assert.True(t, resp.Failed(7))
	assert.Equal(t, 1, resp.FailedRows())

	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "#DIV/0!")
	require.Len(t, diag.messages, 1)
	assert.Equal(t, "=1/(Value-20) | "+resp.Warnings[0], diag.messages[0])
}

func TestEvaluateRejectsBeforeRunning(t *testing.T) {
	table := sampleTable(t)
	fake := &fakeDelegated{}
	e := New(WithDelegated(fake))

	cases := []struct {
		name string
		req  Request
		is   error
	}{
		{"syntax", Request{FormulaText: "=SUM(Value"}, formula.ErrSyntax},
		{"delegated syntax", Request{FormulaText: "=IF(", Backend: BackendDelegated}, formula.ErrSyntax},
		{"missing field", Request{FormulaText: "=[Approval Date]>0"}, formula.ErrDependency},
		{"delegated missing field", Request{FormulaText: "=[Approval Date]>0", Backend: BackendDelegated}, formula.ErrDependency},
		{"empty", Request{FormulaText: "  "}, ErrEmptyFormulaText},
		{"unknown backend", Request{FormulaText: "=1", Backend: "python"}, ErrUnknownBackend},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := e.Evaluate(context.Background(), table, tc.req)
			assert.ErrorIs(t, err, tc.is)
			assert.Nil(t, resp)
		})
	}
	assert.Empty(t, fake.calls)

	_, err := e.Evaluate(context.Background(), table, Request{FormulaText: "=[Approval Date]>0"})
	var depErr *formula.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"Approval Date"}, depErr.Missing)
}

func TestEvaluateDelegatedDisabled(t *testing.T) {
	_, err := New().Evaluate(context.Background(), sampleTable(t), Request{FormulaText: "=Value", Backend: BackendDelegated})
	assert.ErrorIs(t, err, ErrDelegatedDisabled)
}

func TestEvaluateDelegated(t *testing.T) {
	table := sampleTable(t)
	fake := &fakeDelegated{
		columns: map[string][]any{
			"=Value*2": {300.0, 100.0, 1000.0},
		},
		warnings: []string{"=Value*2: #N/A (value not available) in 1 row(s), first at row 3"},
	}
	e := New(WithDelegated(fake))

	resp, err := e.Evaluate(context.Background(), table, Request{FormulaText: "Value*2", DisplayName: "Double", Backend: BackendDelegated})
	require.NoError(t, err)
	assert.Equal(t, []any{300.0, 100.0, 1000.0}, resp.ResultColumn)
	assert.Equal(t, fake.warnings, resp.Warnings)

	require.Len(t, fake.calls, 1)
	require.Len(t, fake.calls[0], 1)
	assert.Equal(t, "=Value*2", fake.calls[0][0].Text)
	assert.False(t, table.HasColumn(fake.calls[0][0].Name))

	// the input table is untouched
	assert.Equal(t, []string{"Value", "Status"}, table.ColumnNames())
}

func TestEvaluateDelegatedKeepsMixedTypes(t *testing.T) {
	table := sampleTable(t)
	fake := &fakeDelegated{
		columns: map[string][]any{
			`=IF(Value>100,TRUE,"n/a")`: {true, "n/a", true},
			`=IF(Value>100,Value,"low")`: {150.0, "low", 500.0},
		},
	}
	e := New(WithDelegated(fake))

	nativeResp, err := e.Evaluate(context.Background(), table, Request{FormulaText: `=IF(Value>100,TRUE,"n/a")`})
	require.NoError(t, err)
	delegatedResp, err := e.Evaluate(context.Background(), table, Request{FormulaText: `=IF(Value>100,TRUE,"n/a")`, Backend: BackendDelegated})
	require.NoError(t, err)
	assert.Equal(t, []any{true, "n/a", true}, delegatedResp.ResultColumn)
	assert.Equal(t, nativeResp.ResultColumn, delegatedResp.ResultColumn)

	resp, err := e.Evaluate(context.Background(), table, Request{FormulaText: `=IF(Value>100,Value,"low")`, Backend: BackendDelegated})
	require.NoError(t, err)
	assert.Equal(t, []any{150.0, "low", 500.0}, resp.ResultColumn)
}

func TestEvaluateBatchHostRejectsOneFormula(t *testing.T) {
	table := sampleTable(t)
	fake := &fakeDelegated{
		columns: map[string][]any{"=Value+1": {151.0, 51.0, 501.0}},
		rejected: map[string]error{
			"=Value-1": &rpc.Error{Code: rpc.CodeInvalidParams, Message: "formula refused"},
		},
	}
	e := New(WithDelegated(fake))

	outcomes, err := e.EvaluateBatch(context.Background(), table, []Request{
		{FormulaText: "=Value+1", Backend: BackendDelegated},
		{FormulaText: "=Value-1", Backend: BackendDelegated},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, []any{151.0, 51.0, 501.0}, outcomes[0].Response.ResultColumn)

	var rpcErr *rpc.Error
	require.ErrorAs(t, outcomes[1].Err, &rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
	assert.Contains(t, outcomes[1].Err.Error(), "=Value-1")
	assert.Nil(t, outcomes[1].Response)
	require.Len(t, fake.calls, 1)
}

func TestEvaluateDelegatedOmittedColumn(t *testing.T) {
	table := sampleTable(t)
	e := New(WithDelegated(&fakeDelegated{}))

	resp, err := e.Evaluate(context.Background(), table, Request{FormulaText: "=NA()", Backend: BackendDelegated})
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil, nil}, resp.ResultColumn)
	assert.Equal(t, 3, resp.FailedRows())
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "no result column")
}

func TestEvaluateDelegatedResourceError(t *testing.T) {
	boom := formula.NewResourceError("start host", errors.New("not found"))
	e := New(WithDelegated(&fakeDelegated{err: boom}))

	_, err := e.Evaluate(context.Background(), sampleTable(t), Request{FormulaText: "=Value", Backend: BackendDelegated})
	assert.ErrorIs(t, err, formula.ErrResource)
	assert.Equal(t, outcomeResource, outcomeOf(err))
}

func TestEvaluateBatch(t *testing.T) {
	table := sampleTable(t)
	fake := &fakeDelegated{
		columns: map[string][]any{
			"=Value+1": {151.0, 51.0, 501.0},
			"=Value-1": {149.0, 49.0, 499.0},
		},
		warnings: []string{"result columns read each other in a loop; evaluated in the given order"},
	}
	e := New(WithDelegated(fake), WithMaxConcurrency(2))

	reqs := []Request{
		{FormulaText: "=Value+1", Backend: BackendDelegated},
		{FormulaText: "=Value>100"},
		{FormulaText: "=Missing"},
		{FormulaText: "=Value-1", Backend: BackendDelegated},
		{FormulaText: `=LEFT(Status,1)`},
	}
	for i := 0; i < 20; i++ {
		reqs = append(reqs, Request{FormulaText: fmt.Sprintf("=Value*%d", i)})
	}

	outcomes, err := e.EvaluateBatch(context.Background(), table, reqs)
	require.NoError(t, err)
	require.Len(t, outcomes, len(reqs))

	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, []any{151.0, 51.0, 501.0}, outcomes[0].Response.ResultColumn)
	assert.Equal(t, fake.warnings, outcomes[0].Response.Warnings)
	assert.Equal(t, []any{true, false, true}, outcomes[1].Response.ResultColumn)
	assert.ErrorIs(t, outcomes[2].Err, formula.ErrDependency)
	assert.Nil(t, outcomes[2].Response)
	assert.Equal(t, []any{149.0, 49.0, 499.0}, outcomes[3].Response.ResultColumn)
	assert.Equal(t, []any{"A", "A", "C"}, outcomes[4].Response.ResultColumn)
	for i := 0; i < 20; i++ {
		out := outcomes[5+i]
		require.NoError(t, out.Err)
		assert.Equal(t, float64(150*i), out.Response.ResultColumn[0])
	}

	// both delegated formulas shared one session
	require.Len(t, fake.calls, 1)
	assert.Len(t, fake.calls[0], 2)
	assert.NotEqual(t, fake.calls[0][0].Name, fake.calls[0][1].Name)
}

func TestEvaluateBatchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().EvaluateBatch(ctx, sampleTable(t), []Request{{FormulaText: "=1"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultColumnName(t *testing.T) {
	table := newTable(t, []string{"__result_0", "__result_0_1"}, []any{1, 2})
	assert.Equal(t, "__result_0_2", resultColumnName(table, 0))
	assert.Equal(t, "__result_1", resultColumnName(table, 1))
}

func TestStaticOperations(t *testing.T) {
	e := New()

	assert.True(t, e.Validate("=SUM(A1:B2)").OK)
	assert.False(t, e.Validate("=SUM(A1:B2").OK)
	assert.NotEmpty(t, e.Describe(`=IF(Status="Active","Yes","No")`))
	assert.Equal(t, "=A1>0", e.Simplify("=AND(A1>0,TRUE)"))

	deps := e.ExtractDependencies("=[Approval Date]+Value")
	assert.ElementsMatch(t, []string{"Approval Date", "Value"}, []string(deps))
}

func TestCollector(t *testing.T) {
	c := NewCollector(nil)
	assert.NotNil(t, c.Warnings())
	assert.Empty(t, c.Warnings())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Warn("=1", "w")
		}()
	}
	wg.Wait()
	assert.Len(t, c.Warnings(), 10)

	Discard{}.Warn("=1", "ignored")
}

func TestFromConfig(t *testing.T) {
	e := FromConfig(config.Default(), nil)
	assert.NotNil(t, e.delegated)
	assert.Equal(t, config.Default().Native.MaxConcurrency, e.maxConcurrency)
	assert.NotNil(t, e.logger)
}
