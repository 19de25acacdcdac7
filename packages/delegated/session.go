package delegated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/formula"
	"github.com/vogtb/go-formula-engine/packages/reference"
	"github.com/vogtb/go-formula-engine/packages/rpc"
)

// State is where a session is in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrSessionBusy   = errors.New("session busy")
	ErrSessionClosed = errors.New("session closed")
	ErrNotReady      = errors.New("session not ready")
	ErrNoDocument    = errors.New("no scratch document")
	ErrNoTable       = errors.New("no table written")
)

// settings a session runs the host with
var sessionSettings = rpc.AppSettings{
	DisplayAlerts:  false,
	ScreenUpdating: false,
	Calculation:    rpc.CalculationManual,
}

// Session owns one host process and at most one scratch document. it is not
// meant to be shared: one formula application runs at a time and an
// overlapping call fails with ErrSessionBusy.
type Session struct {
	id     string
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	host     *Host
	previous rpc.AppSettings
	path     string
	sheet    string
	columns  map[string]int
	names    []string
	rows     int
}

func NewSession(opts Options) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:     id,
		opts:   opts,
		logger: opts.Logger.With(slog.String("session", id)),
		state:  StateUninitialized,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ScratchPath is the backing file of the scratch document, empty before one
// is created.
func (s *Session) ScratchPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// HostPID is the host process id, 0 when no host was started.
func (s *Session) HostPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host == nil {
		return 0
	}
	return s.host.PID()
}

// Initialize starts the host and switches it to quiet, manual calculation.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return fmt.Errorf("initialize: %w (state %s)", ErrNotReady, s.state)
	}

	host := newHost(s.opts, s.logger)
	s.host = host
	if err := host.Start(ctx); err != nil {
		return formula.NewResourceError("start host", err)
	}
	hostsStarted.Inc()

	startCtx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
	defer cancel()
	var res rpc.InitializeResult
	err := host.Call(startCtx, rpc.MethodInitialize, rpc.InitializeParams{
		ProcessID: os.Getpid(),
		Settings:  sessionSettings,
	}, &res)
	if err != nil {
		return formula.NewResourceError("initialize host", err)
	}

	s.previous = res.Previous
	s.state = StateReady
	s.logger.Info("Automation session ready",
		slog.String("host", res.Host),
		slog.String("version", res.Version),
		slog.Int("pid", host.PID()),
	)
	return nil
}

// CreateScratchDocument opens a blank workbook backed by a fresh temp file.
func (s *Session) CreateScratchDocument(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return err
	}
	if s.path != "" {
		return fmt.Errorf("create scratch document: one is already open: %s", s.path)
	}

	path := filepath.Join(s.opts.TempDir, ScratchPrefix+uuid.NewString()+".xlsx")
	var res rpc.WorkbookCreateResult
	err := s.host.Call(ctx, rpc.MethodWorkbookCreate, rpc.WorkbookCreateParams{
		Path:      path,
		SheetName: s.opts.SheetName,
	}, &res)
	if err != nil {
		return s.hostError("create scratch document", err)
	}
	s.path = res.Path
	s.sheet = res.SheetName
	s.logger.Debug("Scratch document created", slog.String("path", s.path))
	return nil
}

// WriteTable writes the header on row 1 and one row per record below it.
func (s *Session) WriteTable(ctx context.Context, table *dataset.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return err
	}
	if s.path == "" {
		return ErrNoDocument
	}

	names := table.ColumnNames()
	rows := make([][]rpc.CellValue, 0, table.NumRows()+1)
	header := make([]rpc.CellValue, len(names))
	for i, name := range names {
		header[i] = rpc.EncodeValue(name)
	}
	rows = append(rows, header)
	for r := 0; r < table.NumRows(); r++ {
		row := make([]rpc.CellValue, len(names))
		for c := range names {
			row[c] = rpc.EncodeValue(table.Value(r, c))
		}
		rows = append(rows, row)
	}

	if err := s.host.Call(ctx, rpc.MethodRangeWrite, rpc.RangeWriteParams{Cell: "A1", Rows: rows}, nil); err != nil {
		return s.hostError("write table", err)
	}

	s.columns = make(map[string]int, len(names))
	s.names = append([]string(nil), names...)
	for i, name := range names {
		s.columns[name] = i + 1
	}
	s.rows = table.NumRows()
	s.logger.Debug("Table written",
		slog.Int("rows", s.rows),
		slog.Int("columns", len(names)),
	)
	return nil
}

// Application is the outcome of one formula over the written table.
type Application struct {
	Column   string
	Values   []any
	Warnings []string
	// Complete is false when the column could not be produced; Values is
	// nil then and Warnings says why.
	Complete bool
}

// ApplyFormula evaluates text for every written row into a new column named
// column. fields are rewritten to first-data-row references, the first cell
// is checked, and only a clean formula is filled down and read back in bulk.
func (s *Session) ApplyFormula(ctx context.Context, column, text string) (*Application, error) {
	s.mu.Lock()
	if err := s.checkReady(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.columns == nil {
		s.mu.Unlock()
		return nil, ErrNoTable
	}
	s.state = StateBusy
	s.mu.Unlock()

	app, err := s.apply(ctx, column, text)

	s.mu.Lock()
	if s.state == StateBusy {
		s.state = StateReady
	}
	s.mu.Unlock()
	return app, err
}

func (s *Session) apply(ctx context.Context, column, text string) (*Application, error) {
	normalized := formula.Normalize(text)
	node, err := formula.Parse(normalized)
	if err != nil {
		return nil, err
	}
	rewritten, missing := s.rewriteFields(node)
	if len(missing) > 0 {
		return nil, &formula.DependencyError{Formula: normalized, Missing: missing}
	}
	hostText := formula.Format(rewritten)

	app := &Application{Column: column}
	if s.rows == 0 {
		app.Values = []any{}
		app.Complete = true
		s.addColumn(column)
		return app, nil
	}

	col := len(s.names) + 1
	letters, err := reference.IndexToColumnLetter(col)
	if err != nil {
		return nil, formula.NewResourceError("apply formula", err)
	}
	first := letters + "2"
	last := fmt.Sprintf("%s%d", letters, s.rows+1)

	if err := s.host.Call(ctx, rpc.MethodRangeWrite, rpc.RangeWriteParams{
		Cell: letters + "1",
		Rows: [][]rpc.CellValue{{rpc.EncodeValue(column)}},
	}, nil); err != nil {
		return nil, s.hostError("write result header", err)
	}
	if err := s.host.Call(ctx, rpc.MethodSetFormula, rpc.SetFormulaParams{Cell: first, Formula: hostText}, nil); err != nil {
		return nil, s.hostError("set formula", err)
	}
	if err := s.host.Call(ctx, rpc.MethodCalculate, nil, nil); err != nil {
		return nil, s.hostError("calculate", err)
	}
	var probe rpc.CellValue
	if err := s.host.Call(ctx, rpc.MethodCellRead, rpc.CellReadParams{Cell: first}, &probe); err != nil {
		return nil, s.hostError("read first result", err)
	}
	if probe.IsError() {
		code, _ := formula.ParseErrorCode(probe.Text)
		app.Warnings = append(app.Warnings, fmt.Sprintf("%s: %s (%s) at row 2; formula not applied to the remaining rows",
			normalized, probe.Text, code.Description()))
		s.addColumn(column)
		s.logger.Warn("Formula fails on the first row",
			slog.String("formula", normalized),
			slog.String("error", probe.Text),
		)
		return app, nil
	}

	if s.rows > 1 {
		if err := s.host.Call(ctx, rpc.MethodRangeFillDown, rpc.FillDownParams{Range: first + ":" + last}, nil); err != nil {
			return nil, s.hostError("fill down", err)
		}
		if err := s.host.Call(ctx, rpc.MethodCalculate, nil, nil); err != nil {
			return nil, s.hostError("calculate", err)
		}
	}

	var read rpc.RangeReadResult
	if err := s.host.Call(ctx, rpc.MethodRangeRead, rpc.RangeReadParams{Range: first + ":" + last}, &read); err != nil {
		return nil, s.hostError("read results", err)
	}
	s.addColumn(column)

	if len(read.Rows) != s.rows {
		app.Warnings = append(app.Warnings, fmt.Sprintf("%s: read back %d value(s) for %d row(s); column %q omitted",
			normalized, len(read.Rows), s.rows, column))
		return app, nil
	}

	var tally formula.ErrorTally
	app.Values = make([]any, s.rows)
	for i, row := range read.Rows {
		if len(row) == 0 {
			continue
		}
		cv := row[0]
		if cv.IsError() {
			code, ok := formula.ParseErrorCode(cv.Text)
			if !ok {
				code = formula.ErrorCodeValue
			}
			tally.Add(code, i+2)
			continue
		}
		app.Values[i] = cv.Value()
	}
	app.Warnings = append(app.Warnings, tally.Warnings(normalized)...)
	app.Complete = true
	return app, nil
}

// rewriteFields replaces field references with relative addresses on the
// first data row so fill down moves them one row at a time.
func (s *Session) rewriteFields(node formula.Node) (formula.Node, []string) {
	var missing []string
	seen := map[string]bool{}
	var rewrite func(formula.Node) formula.Node
	rewrite = func(n formula.Node) formula.Node {
		switch n := n.(type) {
		case *formula.FieldNode:
			col, ok := s.lookup(n.Name)
			if !ok {
				if !seen[n.Name] {
					seen[n.Name] = true
					missing = append(missing, n.Name)
				}
				return n
			}
			return &formula.AddressNode{Address: reference.Address{Col: col, Row: 2}, Pos: n.Pos}
		case *formula.BinaryNode:
			return &formula.BinaryNode{Op: n.Op, Left: rewrite(n.Left), Right: rewrite(n.Right), Pos: n.Pos}
		case *formula.UnaryNode:
			return &formula.UnaryNode{Op: n.Op, Operand: rewrite(n.Operand), Pos: n.Pos}
		case *formula.CallNode:
			args := make([]formula.Node, len(n.Args))
			for i, arg := range n.Args {
				args[i] = rewrite(arg)
			}
			return &formula.CallNode{Name: n.Name, Func: n.Func, Args: args, Pos: n.Pos}
		}
		return n
	}
	return rewrite(node), missing
}

func (s *Session) lookup(name string) (int, bool) {
	if col, ok := s.columns[name]; ok {
		return col, true
	}
	for i, n := range s.names {
		if strings.EqualFold(n, name) {
			return i + 1, true
		}
	}
	return 0, false
}

func (s *Session) addColumn(name string) {
	s.names = append(s.names, name)
	if _, ok := s.columns[name]; !ok {
		s.columns[name] = len(s.names)
	}
}

// Close closes the document without saving and restores the host settings,
// then stops the host and deletes the scratch file once nothing holds it.
// every step runs even when an earlier one fails and the failures are
// joined. calling Close again is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	// cleanup must finish even when the caller's context is already done
	ctx = context.WithoutCancel(ctx)
	var errs []error

	if s.host != nil && s.host.State() == HostStateRunning {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		if s.path != "" {
			if err := s.host.Call(callCtx, rpc.MethodWorkbookClose, rpc.WorkbookCloseParams{Save: false}, nil); err != nil {
				s.logger.Warn("Closing scratch document failed", slog.String("error", err.Error()))
			}
		}
		if err := s.host.Call(callCtx, rpc.MethodRestore, rpc.RestoreParams{Settings: s.previous}, nil); err != nil {
			s.logger.Debug("Restoring host settings failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	if s.host != nil {
		if err := s.host.Stop(ctx); err != nil {
			errs = append(errs, formula.NewResourceError("stop host", err))
		}
	}

	if s.path != "" {
		if err := s.removeScratch(ctx); err != nil {
			errs = append(errs, formula.NewResourceError("delete scratch document", err))
		}
	}

	s.logger.Info("Automation session closed", slog.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// removeScratch deletes the scratch file, retrying while it is held open.
func (s *Session) removeScratch(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.Retry.InitialInterval
	if s.opts.Retry.MaxInterval > 0 {
		b.MaxInterval = s.opts.Retry.MaxInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := removeFile(s.path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return struct{}{}, nil
		}
		if !transient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(s.opts.Retry.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("Scratch document still locked, retrying",
				slog.String("path", s.path),
				slog.Duration("next", next),
			)
		}),
	)
	return err
}

// removeFile is swapped out in tests.
var removeFile = os.Remove

// transient reports whether a delete failed because the file is still in
// use rather than for good.
func transient(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETXTBSY) ||
		errors.Is(err, os.ErrPermission)
}

func (s *Session) checkReady() error {
	switch s.state {
	case StateReady:
		return nil
	case StateBusy:
		return ErrSessionBusy
	case StateClosed:
		return ErrSessionClosed
	}
	return ErrNotReady
}

// hostError classifies a failed call: a dead host is a resource problem,
// anything else keeps its shape.
func (s *Session) hostError(op string, err error) error {
	if rpc.IsConnectionClosed(err) || errors.Is(err, ErrHostNotRunning) || errors.Is(err, rpc.ErrRequestTimeout) {
		return formula.NewResourceError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
