package engine

import (
	"log/slog"
	"sync"
)

// Diagnostics receives the warnings produced while one formula is checked
// and evaluated.
type Diagnostics interface {
	Warn(formulaText, message string)
}

// Collector keeps warnings for the response and mirrors each one to a
// logger. safe for concurrent use.
type Collector struct {
	logger *slog.Logger

	mu       sync.Mutex
	warnings []string
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{logger: logger}
}

func (c *Collector) Warn(formulaText, message string) {
	c.mu.Lock()
	c.warnings = append(c.warnings, message)
	c.mu.Unlock()
	c.logger.Warn("Formula warning",
		slog.String("formula", formulaText),
		slog.String("warning", message),
	)
}

// Warnings returns a copy of what was collected so far, never nil.
func (c *Collector) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.warnings...)
}

// Discard drops every warning.
type Discard struct{}

func (Discard) Warn(string, string) {}
