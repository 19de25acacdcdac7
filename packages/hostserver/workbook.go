package hostserver

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/vogtb/go-formula-engine/packages/formula"
	"github.com/vogtb/go-formula-engine/packages/reference"
	"github.com/vogtb/go-formula-engine/packages/rpc"
)

func (s *Server) createWorkbook(p rpc.WorkbookCreateParams) (*rpc.WorkbookCreateResult, error) {
	if s.book != nil {
		return nil, rpc.NewError(rpc.CodeInvalidState, "a workbook is already open: %s", s.path)
	}
	if p.Path == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "workbook path is required")
	}
	sheet := p.SheetName
	if sheet == "" {
		sheet = DefaultSheet
	}

	book := excelize.NewFile()
	if sheet != DefaultSheet {
		if err := book.SetSheetName(DefaultSheet, sheet); err != nil {
			_ = book.Close()
			return nil, rpc.NewError(rpc.CodeInvalidParams, "sheet name %q: %v", sheet, err)
		}
	}
	// the scratch file exists on disk from the start so the client owns a
	// real path to clean up
	if err := book.SaveAs(p.Path); err != nil {
		_ = book.Close()
		return nil, fmt.Errorf("save %s: %w", p.Path, err)
	}

	s.book = book
	s.path = p.Path
	s.sheet = sheet
	s.formulas = make(map[string]struct{})
	s.calculated = make(map[string]rpc.CellValue)
	s.logger.Debug("Workbook created", slog.String("path", p.Path), slog.String("sheet", sheet))
	return &rpc.WorkbookCreateResult{Path: p.Path, SheetName: sheet}, nil
}

func (s *Server) closeWorkbook(p rpc.WorkbookCloseParams) error {
	if s.book == nil {
		return nil
	}
	if p.Save {
		if err := s.book.SaveAs(s.path); err != nil {
			return fmt.Errorf("save %s: %w", s.path, err)
		}
	}
	s.closeBook(p.Save)
	return nil
}

func (s *Server) closeBook(saved bool) {
	if s.book == nil {
		return
	}
	if err := s.book.Close(); err != nil {
		s.logger.Warn("Closing workbook failed", slog.String("error", err.Error()))
	}
	s.logger.Debug("Workbook closed", slog.String("path", s.path), slog.Bool("saved", saved))
	s.book = nil
	s.path = ""
	s.sheet = ""
	s.formulas = nil
	s.calculated = nil
}

func cellName(addr reference.Address) (string, error) {
	return excelize.CoordinatesToCellName(addr.Col, addr.Row)
}

func parseCell(text string) (reference.Address, error) {
	addr, err := reference.ParseAddress(text)
	if err != nil {
		return reference.Address{}, rpc.NewError(rpc.CodeInvalidParams, "cell %q: %v", text, err)
	}
	return addr, nil
}

func parseRange(text string) (reference.Range, error) {
	rng, err := reference.ParseRange(text)
	if err != nil {
		return reference.Range{}, rpc.NewError(rpc.CodeInvalidParams, "range %q: %v", text, err)
	}
	return rng.Normalized(), nil
}

func (s *Server) writeRange(p rpc.RangeWriteParams) error {
	origin, err := parseCell(p.Cell)
	if err != nil {
		return err
	}
	for i, row := range p.Rows {
		for j, cv := range row {
			name, err := excelize.CoordinatesToCellName(origin.Col+j, origin.Row+i)
			if err != nil {
				return rpc.NewError(rpc.CodeInvalidParams, "write outside the sheet: %v", err)
			}
			if _, ok := s.formulas[name]; ok {
				if err := s.book.SetCellFormula(s.sheet, name, ""); err != nil {
					return err
				}
				delete(s.formulas, name)
				delete(s.calculated, name)
			}
			if err := s.book.SetCellValue(s.sheet, name, cv.Value()); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *Server) setFormula(p rpc.SetFormulaParams) error {
	addr, err := parseCell(p.Cell)
	if err != nil {
		return err
	}
	name, err := cellName(addr)
	if err != nil {
		return err
	}
	return s.putFormula(name, p.Formula)
}

func (s *Server) putFormula(name, text string) error {
	text = strings.TrimPrefix(strings.TrimSpace(text), "=")
	if text == "" {
		return rpc.NewError(rpc.CodeInvalidParams, "empty formula for %s", name)
	}
	if err := s.book.SetCellFormula(s.sheet, name, text); err != nil {
		return fmt.Errorf("set formula %s: %w", name, err)
	}
	s.formulas[name] = struct{}{}
	// in manual mode the old result stays visible until the next calculate
	if !s.manual() {
		delete(s.calculated, name)
	}
	return nil
}

// fillDown copies the first row of the range into every other row, moving
// relative references the way a spreadsheet does.
func (s *Server) fillDown(p rpc.FillDownParams) error {
	rng, err := parseRange(p.Range)
	if err != nil {
		return err
	}
	top := rng.Start.Row
	for col := rng.Start.Col; col <= rng.End.Col; col++ {
		src, err := excelize.CoordinatesToCellName(col, top)
		if err != nil {
			return err
		}
		text, err := s.book.GetCellFormula(s.sheet, src)
		if err != nil {
			return err
		}
		var value any
		if text == "" {
			cv, err := s.readCell(src)
			if err != nil {
				return err
			}
			value = cv.Value()
		}
		for row := top + 1; row <= rng.End.Row; row++ {
			dst, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				return err
			}
			if text == "" {
				if err := s.book.SetCellValue(s.sheet, dst, value); err != nil {
					return err
				}
				continue
			}
			adapted, err := reference.AdaptFormula(text, top, col, row, col)
			if err != nil {
				return rpc.NewError(rpc.CodeInvalidParams, "fill %s from %s: %v", dst, src, err)
			}
			if err := s.putFormula(dst, adapted); err != nil {
				return err
			}
		}
	}
	s.logger.Debug("Range filled down", slog.String("range", rng.String()))
	return nil
}

// calculate recalculates every formula cell and keeps the results for reads.
func (s *Server) calculate() error {
	if s.book == nil {
		return nil
	}
	for name := range s.formulas {
		s.calculated[name] = s.evaluate(name)
	}
	s.logger.Debug("Workbook calculated", slog.Int("formulas", len(s.formulas)))
	return nil
}

func (s *Server) evaluate(name string) rpc.CellValue {
	result, err := s.book.CalcCellValue(s.sheet, name, excelize.Options{RawCellValue: true})
	return calcResult(result, err)
}

func (s *Server) readCell(text string) (rpc.CellValue, error) {
	addr, err := parseCell(text)
	if err != nil {
		return rpc.CellValue{}, err
	}
	name, err := cellName(addr)
	if err != nil {
		return rpc.CellValue{}, err
	}
	return s.cellValue(name)
}

func (s *Server) cellValue(name string) (rpc.CellValue, error) {
	if _, ok := s.formulas[name]; ok {
		if s.manual() {
			return s.calculated[name], nil
		}
		return s.evaluate(name), nil
	}
	raw, err := s.book.GetCellValue(s.sheet, name, excelize.Options{RawCellValue: true})
	if err != nil {
		return rpc.CellValue{}, err
	}
	kind, err := s.book.GetCellType(s.sheet, name)
	if err != nil {
		return rpc.CellValue{}, err
	}
	switch kind {
	case excelize.CellTypeBool:
		return rpc.CellValue{Kind: rpc.KindBool, Bool: raw == "1" || strings.EqualFold(raw, "TRUE")}, nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString:
		return rpc.EncodeValue(raw), nil
	}
	return textValue(raw), nil
}

func (s *Server) readRange(p rpc.RangeReadParams) (*rpc.RangeReadResult, error) {
	rng, err := parseRange(p.Range)
	if err != nil {
		return nil, err
	}
	out := &rpc.RangeReadResult{Rows: make([][]rpc.CellValue, 0, rng.End.Row-rng.Start.Row+1)}
	for row := rng.Start.Row; row <= rng.End.Row; row++ {
		values := make([]rpc.CellValue, 0, rng.End.Col-rng.Start.Col+1)
		for col := rng.Start.Col; col <= rng.End.Col; col++ {
			name, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				return nil, err
			}
			cv, err := s.cellValue(name)
			if err != nil {
				return nil, err
			}
			values = append(values, cv)
		}
		out.Rows = append(out.Rows, values)
	}
	return out, nil
}

// calcResult types a calculation result. errors come back either as the
// error return or as error text in the result.
func calcResult(result string, err error) rpc.CellValue {
	if err != nil {
		if code, ok := formula.ParseErrorCode(result); ok {
			return errorValue(code)
		}
		if code, ok := formula.ParseErrorCode(err.Error()); ok {
			return errorValue(code)
		}
		return errorValue(formula.ErrorCodeValue)
	}
	return textValue(result)
}

func textValue(raw string) rpc.CellValue {
	if raw == "" {
		return rpc.CellValue{}
	}
	if code, ok := formula.ParseErrorCode(raw); ok {
		return errorValue(code)
	}
	switch raw {
	case "TRUE":
		return rpc.CellValue{Kind: rpc.KindBool, Bool: true}
	case "FALSE":
		return rpc.CellValue{Kind: rpc.KindBool, Bool: false}
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return rpc.CellValue{Kind: rpc.KindNumber, Number: n}
	}
	return rpc.CellValue{Kind: rpc.KindText, Text: raw}
}

func errorValue(code formula.ErrorCode) rpc.CellValue {
	return rpc.CellValue{Kind: rpc.KindError, Text: code.String()}
}
