package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnLetterRoundTrip(t *testing.T) {
	for i := 1; i <= MaxColumns; i++ {
		letters, err := IndexToColumnLetter(i)
		require.NoError(t, err)
		back, err := ColumnLetterToIndex(letters)
		require.NoError(t, err)
		if back != i {
			t.Fatalf("round trip %d -> %s -> %d", i, letters, back)
		}
	}
}

func TestColumnLetterKnownValues(t *testing.T) {
	cases := map[string]int{
		"A":   1,
		"Z":   26,
		"AA":  27,
		"AZ":  52,
		"BA":  53,
		"ZZ":  702,
		"AAA": 703,
		"XFD": 16384,
	}
	for letters, index := range cases {
		t.Run(letters, func(t *testing.T) {
			got, err := ColumnLetterToIndex(letters)
			require.NoError(t, err)
			assert.Equal(t, index, got)

			back, err := IndexToColumnLetter(index)
			require.NoError(t, err)
			assert.Equal(t, letters, back)
		})
	}
}

func TestColumnLetterInvalid(t *testing.T) {
	for _, letters := range []string{"", "A1", "XFE", "ABCD", "$A"} {
		t.Run(letters, func(t *testing.T) {
			_, err := ColumnLetterToIndex(letters)
			assert.ErrorIs(t, err, ErrInvalidColumn)
		})
	}
	for _, index := range []int{0, -1, MaxColumns + 1} {
		_, err := IndexToColumnLetter(index)
		assert.ErrorIs(t, err, ErrInvalidColumn)
	}
}

func TestParseAddress(t *testing.T) {
	cases := []struct {
		text string
		want Address
	}{
		{"A1", Address{Col: 1, Row: 1}},
		{"b12", Address{Col: 2, Row: 12}},
		{"$C3", Address{Col: 3, Row: 3, ColLocked: true}},
		{"C$3", Address{Col: 3, Row: 3, RowLocked: true}},
		{"$AA$100", Address{Col: 27, Row: 100, ColLocked: true, RowLocked: true}},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got, err := ParseAddress(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseAddressInvalidRow(t *testing.T) {
	for _, text := range []string{"A0", "$A$0", "B-1", "A$-3"} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseAddress(text)
			assert.ErrorIs(t, err, ErrInvalidRow)
		})
	}
	for _, text := range []string{"", "1A", "A", "A1B", "$$A1"} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseAddress(text)
			assert.Error(t, err)
		})
	}
}

func TestRelativeRoundTrip(t *testing.T) {
	origins := [][2]int{{1, 1}, {2, 3}, {50, 26}, {1048576, 16384}}
	addresses := []string{"A1", "$A1", "A$1", "$A$1", "XFD1048576", "M40", "$Q$7"}
	for _, text := range addresses {
		addr, err := ParseAddress(text)
		require.NoError(t, err)
		for _, origin := range origins {
			rel := ToRelative(addr, origin[0], origin[1])
			back, err := ToAbsolute(rel, origin[0], origin[1])
			require.NoError(t, err)
			assert.Equal(t, addr, back, "%s at %v via %s", text, origin, rel)
		}
	}
}

func TestRelativeNotation(t *testing.T) {
	addr, err := ParseAddress("B1")
	require.NoError(t, err)
	rel := ToRelative(addr, 2, 3)
	assert.Equal(t, "R[-1]C[-1]", rel.String())

	parsed, err := ParseRelative(rel.String())
	require.NoError(t, err)
	assert.Equal(t, rel, parsed)

	locked, err := ParseAddress("$A$5")
	require.NoError(t, err)
	assert.Equal(t, "R5C1", ToRelative(locked, 9, 9).String())

	same := ToRelative(Address{Col: 4, Row: 4}, 4, 4)
	assert.Equal(t, "RC", same.String())
	parsed, err = ParseRelative("RC")
	require.NoError(t, err)
	assert.Equal(t, same, parsed)
}

func TestToAbsoluteOutOfBounds(t *testing.T) {
	_, err := ToAbsolute(Relative{Row: -2, Col: 0}, 2, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = ToAbsolute(Relative{Row: 0, Col: -1}, 2, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestRangeRoundTrip(t *testing.T) {
	rng, err := ParseRange("$A2:C$10")
	require.NoError(t, err)
	rel := RangeToRelative(rng, 5, 2)
	assert.Equal(t, "R[-3]C1:R10C[1]", rel.String())
	back, err := RangeToAbsolute(rel, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, rng, back)
	assert.Equal(t, "$A2:C$10", back.String())
}

func TestRangeNormalized(t *testing.T) {
	rng, err := ParseRange("C5:A1")
	require.NoError(t, err)
	assert.Equal(t, "A1:C5", rng.Normalized().String())
}

func TestAdaptFormula(t *testing.T) {
	cases := []struct {
		name    string
		formula string
		src     [2]int
		dst     [2]int
		want    string
	}{
		{"shift down", "=A2*2", [2]int{2, 3}, [2]int{5, 3}, "=A5*2"},
		{"locked row and column", "=$A$2+B2", [2]int{2, 3}, [2]int{4, 3}, "=$A$2+B4"},
		{"mixed locks", "=A$2&$B2", [2]int{2, 3}, [2]int{7, 4}, "=B$2&$B7"},
		{"range", "=SUM(A2:A3)", [2]int{2, 5}, [2]int{3, 5}, "=SUM(A3:A4)"},
		{"strings untouched", `=IF(A2="A2","B2",C2)`, [2]int{2, 4}, [2]int{3, 4}, `=IF(A3="A2","B2",C3)`},
		{"escaped quote", `=A2&"say ""B2"""`, [2]int{2, 4}, [2]int{3, 4}, `=A3&"say ""B2"""`},
		{"field names untouched", "=[A2]+`B2`+C2", [2]int{2, 4}, [2]int{3, 4}, "=[A2]+`B2`+C3"},
		{"function names untouched", "=LOG10(A2)", [2]int{2, 4}, [2]int{3, 4}, "=LOG10(A3)"},
		{"sheet prefix", "=Data!B2+'My Sheet'!B2", [2]int{2, 4}, [2]int{4, 4}, "=Data!B4+'My Sheet'!B4"},
		{"numbers untouched", "=A2*1E5+2.5", [2]int{2, 4}, [2]int{3, 4}, "=A3*1E5+2.5"},
		{"anchored above moves up", "=A5", [2]int{6, 2}, [2]int{3, 2}, "=A2"},
		{"off grid", "=A2", [2]int{3, 1}, [2]int{1, 1}, "=" + RefError},
		{"plain identifiers", "=Status=\"Active\"", [2]int{2, 4}, [2]int{3, 4}, "=Status=\"Active\""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AdaptFormula(tc.formula, tc.src[0], tc.src[1], tc.dst[0], tc.dst[1])
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAdaptFormulaRoundTrip(t *testing.T) {
	formula := "=IF($A2>B$1,SUM(C2:D4),E3&\"x\")"
	down, err := AdaptFormula(formula, 2, 6, 40, 6)
	require.NoError(t, err)
	back, err := AdaptFormula(down, 40, 6, 2, 6)
	require.NoError(t, err)
	assert.Equal(t, formula, back)
}
