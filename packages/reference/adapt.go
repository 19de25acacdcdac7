package reference

import (
	"errors"
	"strings"
)

// RefError is what a shifted reference becomes when it falls off the grid.
const RefError = "#REF!"

// AdaptFormula moves a formula written for the source cell to the target
// cell. every address is made relative to the source and resolved again at
// the target, so locked axes stay put and unlocked axes shift.
//
// string literals, [bracketed] and `backtick` field names, quoted sheet
// names and function names are copied through untouched.
func AdaptFormula(text string, srcRow, srcCol, dstRow, dstCol int) (string, error) {
	var sb strings.Builder
	sb.Grow(len(text))

	i := 0
	for i < len(text) {
		ch := text[i]
		switch {
		case ch == '"':
			end := skipQuoted(text, i, '"')
			sb.WriteString(text[i:end])
			i = end
		case ch == '\'':
			end := skipQuoted(text, i, '\'')
			sb.WriteString(text[i:end])
			i = end
		case ch == '`':
			end := skipUntil(text, i+1, '`')
			sb.WriteString(text[i:end])
			i = end
		case ch == '[':
			end := skipUntil(text, i+1, ']')
			sb.WriteString(text[i:end])
			i = end
		case ch >= '0' && ch <= '9', ch == '.':
			// numbers, including exponents like 1E5, never start a reference
			end := i
			for end < len(text) && isWordByte(text[end]) {
				end++
			}
			sb.WriteString(text[i:end])
			i = end
		case isLetter(ch) || ch == '$' || ch == '_':
			end := i
			for end < len(text) && (isWordByte(text[end]) || text[end] == '$') {
				end++
			}
			word := text[i:end]
			next := byte(0)
			if end < len(text) {
				next = text[end]
			}
			if next == '(' || next == '!' || !IsAddress(word) {
				sb.WriteString(word)
				i = end
				continue
			}
			adapted, err := shiftAddress(word, srcRow, srcCol, dstRow, dstCol)
			if err != nil {
				return "", err
			}
			sb.WriteString(adapted)
			i = end
		default:
			sb.WriteByte(ch)
			i++
		}
	}
	return sb.String(), nil
}

func shiftAddress(word string, srcRow, srcCol, dstRow, dstCol int) (string, error) {
	addr, err := ParseAddress(word)
	if err != nil {
		return "", err
	}
	moved, err := ToAbsolute(ToRelative(addr, srcRow, srcCol), dstRow, dstCol)
	if errors.Is(err, ErrOutOfBounds) {
		return RefError, nil
	}
	if err != nil {
		return "", err
	}
	return moved.String(), nil
}

// skipQuoted returns the index just past a quoted run starting at start,
// treating a doubled quote as an escape.
func skipQuoted(text string, start int, quote byte) int {
	i := start + 1
	for i < len(text) {
		if text[i] == quote {
			if i+1 < len(text) && text[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(text)
}

func skipUntil(text string, start int, closing byte) int {
	idx := strings.IndexByte(text[start:], closing)
	if idx < 0 {
		return len(text)
	}
	return start + idx + 1
}

func isWordByte(ch byte) bool {
	return isLetter(ch) || (ch >= '0' && ch <= '9') || ch == '_' || ch == '.'
}
