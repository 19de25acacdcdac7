package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	cases := []struct {
		formula string
		want    string
	}{
		{`=IF(Status="Active","Yes","No")`, `If Status="Active", then "Yes", otherwise "No".`},
		{`=IF(A1>0,"pos")`, `If A1>0, then "pos", otherwise FALSE.`},
		{`=AND(Value>100, Status="Active")`, `True when all of these hold: Value>100; Status="Active".`},
		{"=OR(A1>1,B1<2)", "True when any of these holds: A1>1; B1<2."},
		{"=Value*2+Bonus", "Evaluates fields Value, Bonus using arithmetic operators."},
		{"=LEN(Name)>3", "Evaluates field Name using comparison operators via LEN."},
		{`=[First Name]&" "&[Last Name]`, "Evaluates fields First Name, Last Name using text operators."},
		{"=(Price-Cost)/Price>=0.2", "Evaluates fields Price, Cost using arithmetic and comparison operators."},
		{"=PI()", "Evaluates a constant expression via PI."},
	}
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			assert.Equal(t, tc.want, Describe(tc.formula))
		})
	}
}

func TestDescribeInvalid(t *testing.T) {
	assert.Contains(t, Describe("=SUM(A1"), "Invalid formula: unbalanced parentheses")
}

func TestOperatorCategories(t *testing.T) {
	assert.Equal(t, []string{CategoryComparison}, OperatorCategories("=A1 != B1"))
	assert.Equal(t, []string{CategoryArithmetic, CategoryTextOp}, OperatorCategories(`=[Unit Price]*2&"x"`))
	assert.Empty(t, OperatorCategories("=-A1"))
	assert.Empty(t, OperatorCategories("=SUM(A1:A3)"))
}
