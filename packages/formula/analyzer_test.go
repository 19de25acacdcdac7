package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormed(t *testing.T) {
	formulas := []string{
		"=A1>0",
		"A1>0",
		`=IF(A1="x,y",1,2)`,
		"=AND(Value>100, Status=\"Active\")",
		"=SUM($A$1:B$10)/COUNT(A1:A10)",
		"=[Submit Date]<=[Approval Date]",
		"=PI()*2",
		"=LEN(TRIM(Name))>0",
		"='Q1 Data'!A1+Sheet2!B2",
	}
	for _, text := range formulas {
		t.Run(text, func(t *testing.T) {
			result := Validate(text)
			assert.True(t, result.OK, result.Reason)
			assert.Empty(t, result.Reason)
			assert.Empty(t, result.Warnings)
			assert.True(t, IsSyntacticallyValid(text))
		})
	}
}

func TestValidateReasons(t *testing.T) {
	cases := []struct {
		formula string
		reason  string
	}{
		{"=SUM(A1,A2", "unbalanced parentheses"},
		{"=A1)", "unbalanced parentheses"},
		{`="abc`, "unbalanced quotes"},
		{"=[Field", "unbalanced brackets"},
		{"=Field]", "unbalanced brackets"},
		{"=`Field", "unbalanced backticks"},
		{"=SUM()", "empty function arguments"},
		{"=IF(,A1)", "empty function arguments"},
		{"=SUM(A1,)", "empty function arguments"},
		{"=IF(A1,,2)", "consecutive commas"},
		{"=A0+1", "invalid row number"},
		{"=$B$0", "invalid row number"},
		{"=A$-1", "invalid row number"},
		{"=A1**2", "consecutive operators"},
		{"=(A1+)", "operator before closing parenthesis"},
		{"=A1+", "formula ends with an operator"},
		{"=IF(A1)", "wrong number of arguments"},
		{"=NOT(A1,B1)", "wrong number of arguments"},
		{"", "empty formula"},
		{"=", "empty formula"},
	}
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			result := Validate(tc.formula)
			assert.False(t, result.OK)
			assert.Contains(t, result.Reason, tc.reason)

			err := result.Err(tc.formula)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestIsSyntacticallyValidIsCheaper(t *testing.T) {
	// the pre-check does not look at operators
	assert.True(t, IsSyntacticallyValid("=A1**2"))
	assert.False(t, Validate("=A1**2").OK)

	assert.False(t, IsSyntacticallyValid("=SUM(A1"))
	assert.False(t, IsSyntacticallyValid("=A0"))
	assert.False(t, IsSyntacticallyValid("=SUM()"))
	assert.False(t, IsSyntacticallyValid("  "))
	assert.True(t, IsSyntacticallyValid("=NOW()"))
}

func TestValidateWarnsOnUnknownFunctions(t *testing.T) {
	result := Validate("=XLOOKUP(A1,B1:B5,C1:C5)+XLOOKUP(A2,B1:B5,C1:C5)+SUM(A1)")
	assert.True(t, result.OK)
	assert.Equal(t, []string{"unknown function XLOOKUP"}, result.Warnings)
}

func TestExtractDependencies(t *testing.T) {
	cases := []struct {
		formula string
		want    []string
	}{
		{
			"=AND(NOT(ISBLANK(`Submitter`)), `Submit Date`<=`Approval Date`))",
			[]string{"Submitter", "Submit Date", "Approval Date"},
		},
		{`=IF(Status="Active",[Amount]*2,Other)`, []string{"Status", "Amount", "Other"}},
		{`="say ""Status"" to "&Person`, []string{"Person"}},
		{"=1E5+Rate", []string{"Rate"}},
		{"=Value>100", []string{"Value"}},
		{"Value>100", []string{"Value"}},
		{"=[ Padded ]&Padded", []string{"Padded"}},
		// unknown functions are over-collected
		{"=MYFUNC(Value)", []string{"MYFUNC", "Value"}},
	}
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			assert.Equal(t, DependencySet(tc.want), ExtractDependencies(tc.formula))
		})
	}
}

func TestExtractDependenciesSkipsReferences(t *testing.T) {
	deps := ExtractDependencies("=A1+$B$2+Sheet2!C3+SUM(D1:D4)+'My Sheet'!E5+TRUE")
	assert.Empty(t, deps)
}

func TestFieldReferencesIsExact(t *testing.T) {
	node, err := Parse("=MYFUNC(Value)+[Other]+Value")
	require.NoError(t, err)
	assert.Equal(t, []string{"Value", "Other"}, FieldReferences(node))
}

func TestDependencySet(t *testing.T) {
	deps := ExtractDependencies("=A+B+C")
	assert.True(t, deps.Contains("B"))
	assert.False(t, deps.Contains("D"))
	assert.Equal(t, []string{"C"}, deps.Missing([]string{"A", "B"}))
	assert.Empty(t, deps.Missing([]string{"C", "B", "A"}))
}

func TestAnalyzerNeverPanics(t *testing.T) {
	inputs := []string{
		"=", "==", "=((", "=))", `="`, "=[", "=]", "=`", "='", "=$", "=$$A1",
		"=A", "=A$", "=A$-", "=1e", "=1E+", "=,", "=(,)", "=!", "=!=", "=%", "=&&",
		"=SUM(,", "=IF(", "=\x00", "=\xff", "=Sheet!", "='x'!", "=A1:B", "=:",
	}
	for _, text := range inputs {
		assert.NotPanics(t, func() {
			Validate(text)
			IsSyntacticallyValid(text)
			ExtractDependencies(text)
			Describe(text)
			Simplify(text)
		}, text)
	}
}
