// Package hostserver is the automation host the delegated backend drives. it
// keeps one scratch workbook in memory (backed by excelize) and answers the
// rpc methods a session issues against it.
package hostserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/vogtb/go-formula-engine/packages/rpc"
)

const (
	HostName     = "formulahost"
	HostVersion  = "1.0.0"
	DefaultSheet = "Sheet1"
)

// Server holds the host state. the rpc loop calls it from one goroutine, the
// mutex only guards against tests poking at it directly.
type Server struct {
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	settings    rpc.AppSettings
	book        *excelize.File
	path        string
	sheet       string
	formulas    map[string]struct{}
	calculated  map[string]rpc.CellValue
	shutdown    bool
}

// New creates a host with the settings a freshly started application has.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		logger:   logger,
		settings: defaultSettings(),
	}
}

func defaultSettings() rpc.AppSettings {
	return rpc.AppSettings{
		DisplayAlerts:  true,
		ScreenUpdating: true,
		Calculation:    rpc.CalculationAutomatic,
	}
}

// Serve answers requests from r on w until exit or end of input. an open
// workbook is closed without saving on the way out.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.logger.Info("Starting automation host",
		slog.String("host", HostName),
		slog.Int("pid", os.Getpid()),
	)
	err := rpc.Serve(ctx, r, w, s, s.logger)

	s.mu.Lock()
	s.closeBook(false)
	s.mu.Unlock()

	s.logger.Info("Automation host stopped")
	return err
}

// Handle implements rpc.Handler.
func (s *Server) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown && method != rpc.MethodShutdown {
		return nil, rpc.NewError(rpc.CodeInvalidState, "host is shutting down")
	}

	switch method {
	case rpc.MethodInitialize:
		var p rpc.InitializeParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.initialize(p)
	case rpc.MethodShutdown:
		s.closeBook(false)
		s.shutdown = true
		return nil, nil
	}

	if !s.initialized {
		return nil, rpc.NewError(rpc.CodeNotInitialized, "host not initialized")
	}

	switch method {
	case rpc.MethodRestore:
		var p rpc.RestoreParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, s.restore(p)
	case rpc.MethodWorkbookCreate:
		var p rpc.WorkbookCreateParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.createWorkbook(p)
	case rpc.MethodWorkbookClose:
		var p rpc.WorkbookCloseParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, s.closeWorkbook(p)
	case rpc.MethodCalculate:
		return nil, s.calculate()
	}

	if s.book == nil {
		return nil, rpc.NewError(rpc.CodeInvalidState, "no open workbook")
	}

	switch method {
	case rpc.MethodRangeWrite:
		var p rpc.RangeWriteParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, s.writeRange(p)
	case rpc.MethodSetFormula:
		var p rpc.SetFormulaParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, s.setFormula(p)
	case rpc.MethodCellRead:
		var p rpc.CellReadParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.readCell(p.Cell)
	case rpc.MethodRangeFillDown:
		var p rpc.FillDownParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, s.fillDown(p)
	case rpc.MethodRangeRead:
		var p rpc.RangeReadParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.readRange(p)
	}

	return nil, rpc.NewError(rpc.CodeMethodNotFound, "method %q not found", method)
}

func (s *Server) initialize(p rpc.InitializeParams) (*rpc.InitializeResult, error) {
	if err := checkCalculation(p.Settings.Calculation); err != nil {
		return nil, err
	}
	previous := s.settings
	s.settings = p.Settings
	s.initialized = true
	s.logger.Debug("Host initialized",
		slog.Int("client_pid", p.ProcessID),
		slog.String("calculation", p.Settings.Calculation),
	)
	return &rpc.InitializeResult{Host: HostName, Version: HostVersion, Previous: previous}, nil
}

func (s *Server) restore(p rpc.RestoreParams) error {
	if err := checkCalculation(p.Settings.Calculation); err != nil {
		return err
	}
	s.settings = p.Settings
	s.logger.Debug("Host settings restored", slog.String("calculation", p.Settings.Calculation))
	return nil
}

func checkCalculation(mode string) error {
	switch mode {
	case rpc.CalculationAutomatic, rpc.CalculationManual:
		return nil
	}
	return rpc.NewError(rpc.CodeInvalidParams, "unknown calculation mode %q", mode)
}

func (s *Server) manual() bool {
	return s.settings.Calculation == rpc.CalculationManual
}
