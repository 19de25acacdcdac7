package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimplifyRules(t *testing.T) {
	cases := []struct {
		formula string
		want    string
	}{
		{"=AND(A1>0,TRUE)", "=A1>0"},
		{"=AND(TRUE,B1=2)", "=B1=2"},
		{`=OR(Status="x",FALSE)`, `=Status="x"`},
		{"=OR(FALSE(),ISBLANK(A1))", "=ISBLANK(A1)"},
		{"=IF(A1>0,TRUE,FALSE)", "=A1>0"},
		{"=IF(A1,FALSE,TRUE)", "=NOT(A1)"},
		{"=NOT(NOT(ISBLANK(A1)))", "=ISBLANK(A1)"},
		{"=((A1+B1))", "=A1+B1"},
		{"=AND(OR(A1>1,FALSE),TRUE)", "=A1>1"},
		{"=IF(NOT(NOT(A1>0)),TRUE,FALSE)", "=A1>0"},
		{"=IF(IF(A1,FALSE,TRUE),FALSE,TRUE)", "=NOT(NOT(A1))"},
		{"=SUM((A1),((B1)))*2", "=SUM(A1,B1)*2"},
	}
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			assert.Equal(t, tc.want, Simplify(tc.formula))
		})
	}
}

func TestSimplifyKeepsValueChangingRewritesOut(t *testing.T) {
	// AND(5,TRUE) is TRUE while 5 is 5
	assert.Equal(t, "=AND(A1,TRUE)", Simplify("=AND(A1,TRUE)"))
	assert.Equal(t, "=OR(FALSE,A1+1)", Simplify("=OR(FALSE,A1+1)"))
	assert.Equal(t, "=NOT(NOT(A1))", Simplify("=NOT(NOT(A1))"))
	assert.Equal(t, "=IF(A1,TRUE,FALSE)", Simplify("=IF(A1,TRUE,FALSE)"))
	assert.Equal(t, "=AND(A1>0,TRUE,TRUE)", Simplify("=AND(A1>0,TRUE,TRUE)"))
}

func TestSimplifyUnparseableUnchanged(t *testing.T) {
	for _, text := range []string{"=SUM(", `="abc`, "", "=A1**2"} {
		assert.Equal(t, text, Simplify(text))
	}
}

func TestSimplifyIdempotent(t *testing.T) {
	formulas := []string{
		"=AND(A1>0,TRUE)",
		"=IF(IF(A1,FALSE,TRUE),FALSE,TRUE)",
		"=((1+2))*3-(4-(5))",
		`=IF(AND([Submit Date]<=[Approval Date],TRUE),"ok","late")`,
		"=OR(FALSE,NOT(NOT(EXACT(A1,B1))))",
		"=-(-A1)^2%",
		"='My Sheet'!A1&\"x\"",
		"=AND(A1,TRUE)",
		"=SUM(",
		"=1E+300*10",
	}
	for _, text := range formulas {
		t.Run(text, func(t *testing.T) {
			once := Simplify(text)
			assert.Equal(t, once, Simplify(once))
		})
	}
}

func TestSimplifyTreeDoesNotModifyInput(t *testing.T) {
	node := parseFormula(t, "=AND(NOT(NOT(A1>0)),TRUE)")
	before := node.String()
	simplified := SimplifyTree(node)
	assert.Equal(t, before, node.String())
	assert.Equal(t, "(A1>0)", simplified.String())
}
