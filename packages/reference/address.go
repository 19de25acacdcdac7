package reference

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// grid limits of the host workbook format
const (
	MaxColumns = 16384
	MaxRows    = 1048576
)

var (
	ErrInvalidColumn  = errors.New("invalid column")
	ErrInvalidRow     = errors.New("invalid row number")
	ErrInvalidAddress = errors.New("invalid address")
	ErrOutOfBounds    = errors.New("reference out of bounds")
)

// ColumnLetterToIndex converts column letters to a 1-based index (A=1,
// Z=26, AA=27). there is no zero digit, so this is bijective base-26.
func ColumnLetterToIndex(letters string) (int, error) {
	if letters == "" || len(letters) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColumn, letters)
	}
	index := 0
	for _, ch := range letters {
		switch {
		case ch >= 'A' && ch <= 'Z':
			index = index*26 + int(ch-'A') + 1
		case ch >= 'a' && ch <= 'z':
			index = index*26 + int(ch-'a') + 1
		default:
			return 0, fmt.Errorf("%w: %q", ErrInvalidColumn, letters)
		}
	}
	if index > MaxColumns {
		return 0, fmt.Errorf("%w: %q exceeds %d columns", ErrInvalidColumn, letters, MaxColumns)
	}
	return index, nil
}

// IndexToColumnLetter is the inverse of ColumnLetterToIndex.
func IndexToColumnLetter(index int) (string, error) {
	if index < 1 || index > MaxColumns {
		return "", fmt.Errorf("%w: %d", ErrInvalidColumn, index)
	}
	var buf [3]byte
	pos := len(buf)
	for index > 0 {
		index--
		pos--
		buf[pos] = byte('A' + index%26)
		index /= 26
	}
	return string(buf[pos:]), nil
}

// Address is an A1 style cell address. each axis can be locked
// independently with '$'.
type Address struct {
	Col       int
	Row       int
	ColLocked bool
	RowLocked bool
}

func (a Address) String() string {
	letters, err := IndexToColumnLetter(a.Col)
	if err != nil {
		return "#REF!"
	}
	var sb strings.Builder
	if a.ColLocked {
		sb.WriteByte('$')
	}
	sb.WriteString(letters)
	if a.RowLocked {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(a.Row))
	return sb.String()
}

// Validate checks the address against the grid limits.
func (a Address) Validate() error {
	if a.Col < 1 || a.Col > MaxColumns {
		return fmt.Errorf("%w: column %d", ErrInvalidColumn, a.Col)
	}
	if a.Row < 1 || a.Row > MaxRows {
		return fmt.Errorf("%w: %d", ErrInvalidRow, a.Row)
	}
	return nil
}

// ParseAddress parses "A1", "$A1", "A$1" or "$A$1". letters are case
// insensitive; the row must be a positive integer.
func ParseAddress(text string) (Address, error) {
	var addr Address
	s := text
	if strings.HasPrefix(s, "$") {
		addr.ColLocked = true
		s = s[1:]
	}

	letterEnd := 0
	for letterEnd < len(s) && isLetter(s[letterEnd]) {
		letterEnd++
	}
	if letterEnd == 0 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, text)
	}
	col, err := ColumnLetterToIndex(s[:letterEnd])
	if err != nil {
		return Address{}, err
	}
	addr.Col = col

	s = s[letterEnd:]
	if strings.HasPrefix(s, "$") {
		addr.RowLocked = true
		s = s[1:]
	}
	if s == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, text)
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
		s = s[1:]
	}
	if s == "" || !allDigits(s) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, text)
	}
	row, err := strconv.Atoi(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidRow, text)
	}
	row *= sign
	if row < 1 || row > MaxRows {
		return Address{}, fmt.Errorf("%w: %d in %q", ErrInvalidRow, row, text)
	}
	addr.Row = row
	return addr, nil
}

// IsAddress reports whether text is shaped like an A1 address. it does not
// check row bounds, so "A0" is address shaped but not valid.
func IsAddress(text string) bool {
	s := strings.TrimPrefix(text, "$")
	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	if i == 0 || i > 3 {
		return false
	}
	s = strings.TrimPrefix(s[i:], "$")
	return s != "" && allDigits(s)
}

// Range is a rectangular start:end pair of addresses.
type Range struct {
	Start Address
	End   Address
}

func (r Range) String() string {
	return r.Start.String() + ":" + r.End.String()
}

// ParseRange parses "A1:B2" in any combination of locks.
func ParseRange(text string) (Range, error) {
	start, end, ok := strings.Cut(text, ":")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q is not a range", ErrInvalidAddress, text)
	}
	s, err := ParseAddress(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ParseAddress(end)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: s, End: e}, nil
}

// Normalized returns the range with its corners ordered top-left to
// bottom-right.
func (r Range) Normalized() Range {
	out := r
	if out.Start.Row > out.End.Row {
		out.Start.Row, out.End.Row = out.End.Row, out.Start.Row
		out.Start.RowLocked, out.End.RowLocked = out.End.RowLocked, out.Start.RowLocked
	}
	if out.Start.Col > out.End.Col {
		out.Start.Col, out.End.Col = out.End.Col, out.Start.Col
		out.Start.ColLocked, out.End.ColLocked = out.End.ColLocked, out.Start.ColLocked
	}
	return out
}

func isLetter(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z')
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
