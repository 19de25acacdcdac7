package reference

import (
	"fmt"
	"strconv"
	"strings"
)

// Relative is an address expressed against an origin cell. an unlocked axis
// holds a signed offset from the origin; a locked axis holds the absolute
// row or column and ignores the origin.
type Relative struct {
	Row       int
	Col       int
	RowLocked bool
	ColLocked bool
}

// String renders R1C1 notation: R[-1]C[2] for offsets, R3C1 for locked
// axes, and a bare R or C for a zero offset.
func (r Relative) String() string {
	var sb strings.Builder
	sb.WriteString(axisString('R', r.Row, r.RowLocked))
	sb.WriteString(axisString('C', r.Col, r.ColLocked))
	return sb.String()
}

func axisString(prefix byte, value int, locked bool) string {
	switch {
	case locked:
		return string(prefix) + strconv.Itoa(value)
	case value == 0:
		return string(prefix)
	default:
		return string(prefix) + "[" + strconv.Itoa(value) + "]"
	}
}

// ParseRelative parses the R1C1 form produced by Relative.String.
func ParseRelative(text string) (Relative, error) {
	s := strings.ToUpper(text)
	if !strings.HasPrefix(s, "R") {
		return Relative{}, fmt.Errorf("%w: %q", ErrInvalidAddress, text)
	}
	cIdx := strings.IndexByte(s, 'C')
	if cIdx < 0 {
		return Relative{}, fmt.Errorf("%w: %q", ErrInvalidAddress, text)
	}
	row, rowLocked, err := parseAxis(s[1:cIdx])
	if err != nil {
		return Relative{}, fmt.Errorf("%w: %q", err, text)
	}
	col, colLocked, err := parseAxis(s[cIdx+1:])
	if err != nil {
		return Relative{}, fmt.Errorf("%w: %q", err, text)
	}
	if rowLocked && row < 1 {
		return Relative{}, fmt.Errorf("%w: %d", ErrInvalidRow, row)
	}
	if colLocked && col < 1 {
		return Relative{}, fmt.Errorf("%w: %d", ErrInvalidColumn, col)
	}
	return Relative{Row: row, Col: col, RowLocked: rowLocked, ColLocked: colLocked}, nil
}

func parseAxis(part string) (int, bool, error) {
	if part == "" {
		return 0, false, nil
	}
	if strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") {
		n, err := strconv.Atoi(part[1 : len(part)-1])
		if err != nil {
			return 0, false, ErrInvalidAddress
		}
		return n, false, nil
	}
	n, err := strconv.Atoi(part)
	if err != nil {
		return 0, false, ErrInvalidAddress
	}
	return n, true, nil
}

// ToRelative anchors addr at the origin cell.
func ToRelative(addr Address, originRow, originCol int) Relative {
	rel := Relative{RowLocked: addr.RowLocked, ColLocked: addr.ColLocked}
	if addr.RowLocked {
		rel.Row = addr.Row
	} else {
		rel.Row = addr.Row - originRow
	}
	if addr.ColLocked {
		rel.Col = addr.Col
	} else {
		rel.Col = addr.Col - originCol
	}
	return rel
}

// ToAbsolute resolves rel against the current cell. the result must land
// inside the grid.
func ToAbsolute(rel Relative, currentRow, currentCol int) (Address, error) {
	addr := Address{RowLocked: rel.RowLocked, ColLocked: rel.ColLocked}
	if rel.RowLocked {
		addr.Row = rel.Row
	} else {
		addr.Row = currentRow + rel.Row
	}
	if rel.ColLocked {
		addr.Col = rel.Col
	} else {
		addr.Col = currentCol + rel.Col
	}
	if err := addr.Validate(); err != nil {
		return Address{}, fmt.Errorf("%w: %s from %d,%d: %v", ErrOutOfBounds, rel, currentRow, currentCol, err)
	}
	return addr, nil
}

// RelativeRange is the relative form of a Range.
type RelativeRange struct {
	Start Relative
	End   Relative
}

func (r RelativeRange) String() string {
	return r.Start.String() + ":" + r.End.String()
}

func RangeToRelative(rng Range, originRow, originCol int) RelativeRange {
	return RelativeRange{
		Start: ToRelative(rng.Start, originRow, originCol),
		End:   ToRelative(rng.End, originRow, originCol),
	}
}

func RangeToAbsolute(rel RelativeRange, currentRow, currentCol int) (Range, error) {
	start, err := ToAbsolute(rel.Start, currentRow, currentCol)
	if err != nil {
		return Range{}, err
	}
	end, err := ToAbsolute(rel.End, currentRow, currentCol)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: start, End: end}, nil
}
