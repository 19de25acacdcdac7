package native

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/formula"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type sequenceRandom struct {
	mu     sync.Mutex
	values []float64
	next   int
}

func (s *sequenceRandom) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

func newTable(t *testing.T, names []string, rows ...[]any) *dataset.Table {
	t.Helper()
	table, err := dataset.FromRows(names, rows)
	require.NoError(t, err)
	t.Cleanup(table.Release)
	return table
}

func evaluate(t *testing.T, b *Backend, table *dataset.Table, text string) *Result {
	t.Helper()
	result, err := b.Evaluate(context.Background(), table, text)
	require.NoError(t, err, text)
	return result
}

func TestEvaluateIfOverStatus(t *testing.T) {
	table := newTable(t, []string{"Status"}, []any{"Active"}, []any{"Closed"})
	result := evaluate(t, NewBackend(), table, `=IF(Status="Active","Yes","No")`)
	assert.Equal(t, []any{"Yes", "No"}, result.Values)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, []string{"Status"}, result.UsedFields)
}

func TestEvaluateAndOverTwoColumns(t *testing.T) {
	table := newTable(t, []string{"Value", "Status"},
		[]any{150, "Active"},
		[]any{50, "Active"},
	)
	result := evaluate(t, NewBackend(), table, `=AND(Value>100, Status="Active")`)
	assert.Equal(t, []any{true, false}, result.Values)
}

func TestEvaluateOperators(t *testing.T) {
	table := newTable(t, []string{"Value", "Name"},
		[]any{10, "ann"},
		[]any{20, "Bob"},
	)
	cases := []struct {
		formula string
		want    []any
	}{
		{"=Value*2+1", []any{21.0, 41.0}},
		{"=-Value", []any{-10.0, -20.0}},
		{"=Value%", []any{0.1, 0.2}},
		{"=2^Value/1024", []any{1.0, 1024.0}},
		{"=2^3^2", []any{64.0, 64.0}},
		{`=Name&"-"&Value`, []any{"ann-10", "Bob-20"}},
		{`=Name="ANN"`, []any{true, false}},
		{`=Name<>"ann"`, []any{false, true}},
		{"=Value>=20", []any{false, true}},
		{"=1+1", []any{2.0, 2.0}},
		{"=NOT(Value>15)", []any{true, false}},
		{"=OR(Value>15, FALSE)", []any{false, true}},
	}
	b := NewBackend()
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			assert.Equal(t, tc.want, evaluate(t, b, table, tc.formula).Values)
		})
	}
}

func TestEvaluateTextFunctions(t *testing.T) {
	table := newTable(t, []string{"Status"}, []any{"Active"}, []any{"closed case"})
	b := NewBackend()

	assert.Equal(t, []any{"Act-6", "clo-11"}, evaluate(t, b, table, `=LEFT(Status,3)&"-"&LEN(Status)`).Values)
	assert.Equal(t, []any{"ive", "ase"}, evaluate(t, b, table, `=RIGHT(Status,3)`).Values)
	assert.Equal(t, []any{"ctiv", "lose"}, evaluate(t, b, table, `=MID(Status,2,4)`).Values)
	assert.Equal(t, []any{"Active", "Closed Case"}, evaluate(t, b, table, `=PROPER(Status)`).Values)
	assert.Equal(t, []any{"ACTIVE", "CLOSED CASE"}, evaluate(t, b, table, `=UPPER(Status)`).Values)
	assert.Equal(t, []any{"Active!", "closed case!"}, evaluate(t, b, table, `=CONCATENATE(Status,"!")`).Values)
}

func TestEvaluateHugeTextCounts(t *testing.T) {
	table := newTable(t, []string{"Status", "Count"}, []any{"Active", 1e300}, []any{"ab", 2})
	b := NewBackend()

	assert.Equal(t, []any{"Active", "ab"}, evaluate(t, b, table, "=LEFT(Status,1E300)").Values)
	assert.Equal(t, []any{"Active", "ab"}, evaluate(t, b, table, "=RIGHT(Status,Count)").Values)
	assert.Equal(t, []any{"", ""}, evaluate(t, b, table, "=MID(Status,1E300,2)").Values)
	assert.Equal(t, []any{"ctive", "b"}, evaluate(t, b, table, "=MID(Status,2,Count)").Values)

	result := evaluate(t, b, table, "=REPT(Status,Count)")
	assert.Equal(t, []any{nil, "abab"}, result.Values)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "#VALUE!")
}

func TestEvaluateAddresses(t *testing.T) {
	table := newTable(t, []string{"Value", "Other"},
		[]any{10, 1},
		[]any{20, 2},
		[]any{30, 3},
	)
	cases := []struct {
		formula string
		want    []any
	}{
		{"=A2*2", []any{20.0, 40.0, 60.0}},
		{"=A2+A$2", []any{20.0, 30.0, 40.0}},
		{"=A3", []any{20.0, 30.0, nil}},
		{"=A1", []any{"Value", 10.0, 20.0}},
		{"=$B$4", []any{3.0, 3.0, 3.0}},
		{"=SUM(A$2:A2)", []any{10.0, 30.0, 60.0}},
		{"=SUM($A$2:$A$4)", []any{60.0, 60.0, 60.0}},
		{"=SUM(A2:B2)", []any{11.0, 22.0, 33.0}},
		{"=COUNTA(A$1:A2)", []any{2.0, 3.0, 4.0}},
		{"=Z2", []any{nil, nil, nil}},
	}
	b := NewBackend()
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			assert.Equal(t, tc.want, evaluate(t, b, table, tc.formula).Values)
		})
	}
}

func TestEvaluateDates(t *testing.T) {
	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	table := newTable(t, []string{"Submit Date", "Approval Date"},
		[]any{jan, feb},
		[]any{feb, jan},
	)
	b := NewBackend(WithClock(fixedClock{now: time.Date(2024, 2, 11, 13, 30, 0, 0, time.UTC)}))

	assert.Equal(t, []any{true, false}, evaluate(t, b, table, "=[Submit Date]<=[Approval Date]").Values)
	assert.Equal(t, []any{17.0, -17.0}, evaluate(t, b, table, "=`Approval Date`-`Submit Date`").Values)
	assert.Equal(t, []any{27.0, 10.0}, evaluate(t, b, table, "=TODAY()-[Submit Date]").Values)
	assert.Equal(t, []any{1.0, 2.0}, evaluate(t, b, table, "=MONTH([Submit Date])").Values)
	assert.Equal(t, []any{true, true}, evaluate(t, b, table, "=DATE(2024,1,15)<=[Submit Date]").Values)
}

func TestEvaluateNormalizesCellErrors(t *testing.T) {
	table := newTable(t, []string{"Value"}, []any{10}, []any{20}, []any{30})
	result := evaluate(t, NewBackend(), table, "1/(Value-20)")

	assert.Equal(t, []any{-0.1, nil, 0.1}, result.Values)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "=1/(Value-20): #DIV/0! (division by zero) in 1 row(s), first at row 3", result.Warnings[0])
}

func TestEvaluateIfComputesBothBranches(t *testing.T) {
	table := newTable(t, []string{"Value"}, []any{0}, []any{4})
	result := evaluate(t, NewBackend(), table, "=IF(Value=0,0,8/Value)")
	assert.Equal(t, []any{0.0, 2.0}, result.Values)
	assert.Empty(t, result.Warnings)

	result = evaluate(t, NewBackend(), table, "=IFERROR(8/Value,-1)")
	assert.Equal(t, []any{-1.0, 2.0}, result.Values)
}

func TestEvaluatePassthrough(t *testing.T) {
	table := newTable(t, []string{"A", "B", "C"}, []any{1, 5, 3})
	b := NewBackend()

	result := evaluate(t, b, table, "=MEDIAN(A2:C2)")
	assert.Equal(t, []any{3.0}, result.Values)
	assert.Equal(t, []string{"MEDIAN is not translated natively; evaluated per row best effort"}, result.Warnings)

	result = evaluate(t, b, table, "=XLOOKUP(A, B, C)")
	assert.Equal(t, []any{nil}, result.Values)
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "XLOOKUP is not available natively; rows evaluate to #NAME?", result.Warnings[0])
	assert.Contains(t, result.Warnings[1], "#NAME?")
}

func TestEvaluateVolatile(t *testing.T) {
	table := newTable(t, []string{"Value"}, []any{1}, []any{2}, []any{3})
	b := NewBackend(WithRandom(&sequenceRandom{values: []float64{0.25, 0.5, 0.75}}))
	result := evaluate(t, b, table, "=RAND()")
	assert.Equal(t, []any{0.25, 0.5, 0.75}, result.Values)
}

func TestEvaluateErrors(t *testing.T) {
	table := newTable(t, []string{"Value"}, []any{1})
	b := NewBackend()

	_, err := b.Evaluate(context.Background(), table, "=SUM(A1")
	assert.ErrorIs(t, err, formula.ErrSyntax)

	_, err = b.Evaluate(context.Background(), table, "=Missing+Value")
	var depErr *formula.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"Missing"}, depErr.Missing)

	_, err = b.Evaluate(context.Background(), table, "=IF(Value)")
	var trErr *formula.TranslationError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, "IF", trErr.Function)

	_, err = b.Evaluate(context.Background(), table, "=Sheet2!A1")
	assert.ErrorIs(t, err, formula.ErrTranslation)

	_, err = b.Evaluate(context.Background(), table, "=MID(Value,1)")
	assert.ErrorIs(t, err, formula.ErrTranslation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Evaluate(ctx, table, "=1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranslateSource(t *testing.T) {
	node, err := formula.Parse(`=IF([Amount]>0,"pos",Amount&A2)`)
	require.NoError(t, err)

	compiled, err := Translate(node)
	require.NoError(t, err)
	assert.Equal(t, `v_if(v_op(">", f_0, k_0), k_1, v_concat(f_0, a_0))`, compiled.Source)
	assert.Equal(t, []string{"Amount"}, compiled.UsedFields)
	assert.Empty(t, compiled.Warnings)
}

func TestProgramCache(t *testing.T) {
	b := NewBackend(WithCacheSize(2))
	for _, text := range []string{"=1+2", "= 1 + 2", "=((1+2))"} {
		_, err := b.Compile(text)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, b.Programs().Count())
	hits, misses := b.Programs().Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)

	for _, text := range []string{"=2", "=3"} {
		_, err := b.Compile(text)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, b.Programs().Count())

	b.Programs().Clear()
	assert.Equal(t, 0, b.Programs().Count())
}

func TestBackendConcurrentUse(t *testing.T) {
	rows := make([][]any, 100)
	for i := range rows {
		rows[i] = []any{i, fmt.Sprintf("row %d", i)}
	}
	table := newTable(t, []string{"Value", "Label"}, rows...)
	b := NewBackend()

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for w := range results {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			result, err := b.Evaluate(context.Background(), table, `=IF(Value>49,Label,"low")`)
			assert.NoError(t, err)
			results[w] = result
		}(w)
	}
	wg.Wait()

	for _, result := range results {
		require.NotNil(t, result)
		assert.Equal(t, "low", result.Values[0])
		assert.Equal(t, "row 99", result.Values[99])
	}
	assert.Equal(t, 1, b.Programs().Count())
}

func TestBuiltins(t *testing.T) {
	b := NewDefaultBuiltins()
	cases := []struct {
		name string
		args []any
		want any
	}{
		{"MID", []any{"Hello", 2, 3}, "ell"},
		{"FIND", []any{"l", "Hello"}, 3.0},
		{"SEARCH", []any{"L", "Hello"}, 3.0},
		{"SUBSTITUTE", []any{"a-b-c", "-", "+", 2}, "a-b+c"},
		{"SUBSTITUTE", []any{"a-b-c", "-", "+"}, "a+b+c"},
		{"MOD", []any{-3, 2}, 1.0},
		{"ROUND", []any{2.5}, 3.0},
		{"ROUND", []any{-2.5}, -3.0},
		{"ROUND", []any{1234.5678, -2}, 1200.0},
		{"TRIM", []any{"  a   b "}, "a b"},
		{"EXACT", []any{"a", "A"}, false},
		{"DATE", []any{2024, 2, 30}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"EOMONTH", []any{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 1}, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"EDATE", []any{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1}, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"AVERAGE", []any{Cells{1.0, "x", nil, 3.0}}, 2.0},
		{"COUNT", []any{Cells{1.0, "x", nil, true}}, 1.0},
		{"AND", []any{Cells{true, "x", nil}, 1.0}, true},
		{"ISBLANK", []any{nil}, true},
		{"ISNUMBER", []any{"1"}, false},
		{"VALUE", []any{"12.5"}, 12.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, b.Call(tc.name, tc.args...))
		})
	}
}

func TestBuiltinErrors(t *testing.T) {
	b := NewDefaultBuiltins()
	cases := []struct {
		name string
		args []any
		code formula.ErrorCode
	}{
		{"SQRT", []any{-1.0}, formula.ErrorCodeNum},
		{"MOD", []any{1.0, 0.0}, formula.ErrorCodeDiv0},
		{"AVERAGE", []any{Cells{"a"}}, formula.ErrorCodeDiv0},
		{"IF", []any{"maybe", 1.0, 2.0}, formula.ErrorCodeValue},
		{"FIND", []any{"z", "abc"}, formula.ErrorCodeValue},
		{"NOPE", nil, formula.ErrorCodeName},
		{"LEN", []any{Cells{"a"}}, formula.ErrorCodeValue},
		{"NA", nil, formula.ErrorCodeNA},
		{"REPT", []any{"x", 40000.0}, formula.ErrorCodeValue},
		{"LEFT", []any{"x", -1.0}, formula.ErrorCodeValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err, ok := b.Call(tc.name, tc.args...).(*formula.CellError)
			require.True(t, ok)
			assert.Equal(t, tc.code, err.Code)
		})
	}
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, 0, compareValues("abc", "ABC"))
	assert.Equal(t, 0, compareValues(nil, 0.0))
	assert.Equal(t, 0, compareValues(nil, ""))
	assert.Equal(t, 0, compareValues(false, nil))
	assert.Equal(t, -1, compareValues(1.0, "a"))
	assert.Equal(t, -1, compareValues("a", true))
	assert.Equal(t, 1, compareValues(2.0, 1.0))
}

func benchmarkTable(b *testing.B, n int) *dataset.Table {
	rows := make([][]any, n)
	for i := range rows {
		status := "Active"
		if i%3 == 0 {
			status = "Closed"
		}
		rows[i] = []any{float64(i), status}
	}
	table, err := dataset.FromRows([]string{"Value", "Status"}, rows)
	if err != nil {
		b.Fatal(err)
	}
	return table
}

func BenchmarkTranslate(b *testing.B) {
	node, err := formula.Parse(`=IF(AND(Value>100,Status="Active"),LEFT(Status,3)&Value,"no")`)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Translate(node)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	table := benchmarkTable(b, 10000)
	defer table.Release()
	backend := NewBackend()
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = backend.Evaluate(ctx, table, `=AND(Value>100, Status="Active")`)
	}
}
