// Package api serves the formula engine over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/engine"
)

// FormulaRequest carries a single formula text.
type FormulaRequest struct {
	FormulaText string `json:"formulaText" binding:"required"`
}

type DescribeResponse struct {
	Description string `json:"description"`
}

type DependenciesResponse struct {
	Dependencies []string `json:"dependencies"`
}

type SimplifyResponse struct {
	Formula string `json:"formula"`
}

// TableInput is a table in row major order.
type TableInput struct {
	Columns []string `json:"columns" binding:"required,min=1,dive,required"`
	Rows    [][]any  `json:"rows"`
}

// EvaluateRequest is an engine request plus the table it runs against.
type EvaluateRequest struct {
	engine.Request
	Table TableInput `json:"table" binding:"required"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type Handlers struct {
	engine  *engine.Engine
	logger  *slog.Logger
	version string
}

func NewHandlers(e *engine.Engine, logger *slog.Logger, version string) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{engine: e, logger: logger, version: version}
}

// HandleValidate handles POST /api/v1/validate. an invalid formula is still
// a 200; the verdict is in the body.
func (h *Handlers) HandleValidate(c *gin.Context) {
	var req FormulaRequest
	if !h.bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, h.engine.Validate(req.FormulaText))
}

func (h *Handlers) HandleDescribe(c *gin.Context) {
	var req FormulaRequest
	if !h.bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, DescribeResponse{Description: h.engine.Describe(req.FormulaText)})
}

func (h *Handlers) HandleDependencies(c *gin.Context) {
	var req FormulaRequest
	if !h.bind(c, &req) {
		return
	}
	deps := h.engine.ExtractDependencies(req.FormulaText)
	if deps == nil {
		deps = []string{}
	}
	c.JSON(http.StatusOK, DependenciesResponse{Dependencies: deps})
}

func (h *Handlers) HandleSimplify(c *gin.Context) {
	var req FormulaRequest
	if !h.bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, SimplifyResponse{Formula: h.engine.Simplify(req.FormulaText)})
}

// HandleEvaluate handles POST /api/v1/evaluate.
//
// Response:
//
//	200 OK: engine.Response
//	400 Bad Request: malformed body, table or formula
//	422 Unprocessable Entity: missing columns or untranslatable formula
//	501 Not Implemented: delegated backend disabled
//	503 Service Unavailable: automation host failure
func (h *Handlers) HandleEvaluate(c *gin.Context) {
	requestID := requestIDFor(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleEvaluate"))

	var req EvaluateRequest
	if !h.bind(c, &req) {
		return
	}

	table, err := req.Table.build()
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	defer table.Release()

	start := time.Now()
	resp, err := h.engine.Evaluate(c.Request.Context(), table, req.Request)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	logger.Info("Formula evaluated",
		slog.Int("rows", table.NumRows()),
		slog.Int("failed_rows", resp.FailedRows()),
		slog.Int("warnings", len(resp.Warnings)),
		slog.Duration("elapsed", time.Since(start)),
	)
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: h.version})
}

func (h *Handlers) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Debug("Invalid request body", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: InvalidArgument.String()})
		return false
	}
	return true
}

func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", slog.String("code", body.Code), slog.String("error", err.Error()))
	} else {
		logger.Debug("Request rejected", slog.String("code", body.Code), slog.String("error", err.Error()))
	}
	c.JSON(status, body)
}

// build types the JSON cells: strings that read as dates become times,
// numbers arrive as float64 already.
func (t TableInput) build() (*dataset.Table, error) {
	rows := make([][]any, len(t.Rows))
	for r, row := range t.Rows {
		rows[r] = make([]any, len(row))
		for c, v := range row {
			rows[r][c] = jsonCell(v)
		}
	}
	return dataset.FromRows(t.Columns, rows)
}

func jsonCell(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if parsed, ok := dataset.ParseCell(s).(time.Time); ok {
		return parsed
	}
	return s
}

const requestIDHeader = "X-Request-ID"

func requestIDFor(c *gin.Context) string {
	if id := c.GetHeader(requestIDHeader); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Header(requestIDHeader, id)
	return id
}
