package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vogtb/go-formula-engine/packages/dataset"
	"github.com/vogtb/go-formula-engine/packages/formula"
)

// Outcome is the result of one request of a batch. exactly one of Response
// and Err is set.
type Outcome struct {
	Request  Request
	Response *Response
	Err      error
}

type delegatedJob struct {
	req    Request
	text   string
	sink   Diagnostics
	index  int
	column string
}

type delegatedOutcome struct {
	values []any
	err    error
}

// EvaluateBatch evaluates every request against table. native requests run
// concurrently, bounded by the engine's concurrency; delegated requests share
// one host session for the whole batch. a failing request never fails the
// others, except that losing the host fails every delegated request of the
// batch. the returned error is only set when ctx ends first.
func (e *Engine) EvaluateBatch(ctx context.Context, table *dataset.Table, reqs []Request) ([]Outcome, error) {
	outcomes := make([]Outcome, len(reqs))
	collectors := make([]*Collector, len(reqs))
	starts := make([]time.Time, len(reqs))

	var jobs []delegatedJob
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)

	for i, req := range reqs {
		outcomes[i].Request = req
		kind := req.backend()
		starts[i] = time.Now()
		collectors[i] = NewCollector(e.logger.With(slog.String("name", req.name()), slog.String("backend", string(kind))))

		if kind != BackendNative {
			text, err := e.precheck(table, req, kind, collectors[i])
			if err != nil {
				e.finish(&outcomes[i], kind, starts[i], nil, collectors[i], err)
				continue
			}
			jobs = append(jobs, delegatedJob{req: req, text: text, sink: collectors[i], index: i})
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			values, err := e.evaluate(gctx, table, req, BackendNative, collectors[i])
			e.finish(&outcomes[i], BackendNative, starts[i], values, collectors[i], err)
			return nil
		})
	}

	if len(jobs) > 0 {
		results := e.runDelegated(ctx, table, jobs)
		for j, job := range jobs {
			e.finish(&outcomes[job.index], BackendDelegated, starts[job.index], results[j].values, collectors[job.index], results[j].err)
		}
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

func (e *Engine) finish(out *Outcome, kind BackendKind, start time.Time, values []any, c *Collector, err error) {
	evaluationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	evaluationsTotal.WithLabelValues(string(kind), outcomeOf(err)).Inc()
	if err != nil {
		out.Err = err
		return
	}
	out.Response = &Response{ResultColumn: values, Warnings: c.Warnings()}
	if n := out.Response.FailedRows(); n > 0 {
		undeterminedRows.WithLabelValues(string(kind)).Add(float64(n))
	}
}

// runDelegated evaluates already checked jobs in a single session. result
// columns get internal names so they never collide with table columns.
func (e *Engine) runDelegated(ctx context.Context, table *dataset.Table, jobs []delegatedJob) []delegatedOutcome {
	results := make([]delegatedOutcome, len(jobs))
	if e.delegated == nil {
		for i := range results {
			results[i].err = ErrDelegatedDisabled
		}
		return results
	}

	list := make([]formula.NamedFormula, len(jobs))
	for i := range jobs {
		jobs[i].column = resultColumnName(table, i)
		list[i] = formula.NamedFormula{Name: jobs[i].column, Text: jobs[i].text}
	}

	cols, err := e.delegated.EvaluateColumns(ctx, table, list)
	if err != nil {
		for i := range results {
			results[i].err = err
		}
		return results
	}

	for _, w := range cols.Warnings {
		matched := false
		for _, job := range jobs {
			if containsFormula(w, job.text) {
				job.sink.Warn(job.text, w)
				matched = true
			}
		}
		if !matched {
			// not about one formula, so every job sees it
			for _, job := range jobs {
				job.sink.Warn(job.text, w)
			}
		}
	}

	for i, job := range jobs {
		if ferr, ok := cols.Failed[job.column]; ok {
			results[i].err = fmt.Errorf("%s: %w", job.text, ferr)
			continue
		}
		values, ok := cols.Values[job.column]
		if !ok {
			// the column was dropped; every row is undetermined
			results[i].values = make([]any, table.NumRows())
			if !warnedAbout(cols.Warnings, job.text) {
				job.sink.Warn(job.text, fmt.Sprintf("%s: no result column was produced", job.text))
			}
			continue
		}
		results[i].values = values
	}
	return results
}

func resultColumnName(table *dataset.Table, i int) string {
	for n := 0; ; n++ {
		name := fmt.Sprintf("__result_%d", i)
		if n > 0 {
			name = fmt.Sprintf("__result_%d_%d", i, n)
		}
		if !table.HasColumn(name) {
			return name
		}
	}
}

func containsFormula(warning, text string) bool {
	return strings.HasPrefix(warning, text+": ")
}

func warnedAbout(warnings []string, text string) bool {
	for _, w := range warnings {
		if containsFormula(w, text) {
			return true
		}
	}
	return false
}
