package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFormat = errors.New("unsupported input format")

// cell text layouts recognized as dates, most specific first. 01-02-06 is
// the default short date format of xlsx files.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.DateTime,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"01-02-06",
	"1/2/2006",
	"1/2/06",
}

// Load reads a table from an .xlsx or .csv file. sheet selects the worksheet
// of a workbook and defaults to the first one.
func Load(path, sheet string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadXLSX(path, sheet)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return LoadCSV(f)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// LoadXLSX reads one worksheet. the first row holds the column names.
func LoadXLSX(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return fromText(rows)
}

// LoadCSV reads comma separated records with a header line.
func LoadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromText(records)
}

func fromText(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return FromRows(nil, nil)
	}
	header := make([]string, len(records[0]))
	for i, name := range records[0] {
		header[i] = strings.TrimSpace(name)
		if header[i] == "" {
			header[i] = fmt.Sprintf("Column%d", i+1)
		}
	}

	rows := make([][]any, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) > len(header) {
			record = record[:len(header)]
		}
		row := make([]any, len(record))
		for i, text := range record {
			row[i] = ParseCell(text)
		}
		rows = append(rows, row)
	}
	return FromRows(header, rows)
}

// ParseCell types one cell of text input: empty is nil, then number,
// boolean and date are tried before falling back to text.
func ParseCell(text string) any {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	if looksNumeric(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return text
}

// looksNumeric keeps Inf, NaN and hex literals out of ParseFloat.
func looksNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= '0' && ch <= '9', ch == '.', ch == '-', ch == '+':
		case (ch == 'e' || ch == 'E') && i > 0:
		default:
			return false
		}
	}
	return true
}

// WriteCSV writes the table with a header line. nil cells are empty.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := arrowcsv.NewWriter(w, t.rec.Schema(),
		arrowcsv.WithHeader(true),
		arrowcsv.WithNullWriter(""),
		arrowcsv.WithBoolWriter(func(b bool) string { return FormatValue(b) }),
	)
	if err := writer.Write(t.rec); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return writer.Error()
}
