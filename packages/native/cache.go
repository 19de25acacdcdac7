package native

import (
	"sync"

	"github.com/vogtb/go-formula-engine/packages/formula"
)

// ExpressionKey is the canonical text of a token tree. two formulas that
// differ only in spacing, case of function names or redundant parentheses
// share a key.
type ExpressionKey string

// ExpressionTable interns compiled programs by token tree. the oldest entry
// is evicted once the table is full.
type ExpressionTable struct {
	mu      sync.Mutex
	entries map[ExpressionKey]*VectorizedExpression
	order   []ExpressionKey
	limit   int
	hits    uint64
	misses  uint64
}

func NewExpressionTable(limit int) *ExpressionTable {
	if limit <= 0 {
		limit = DefaultCacheSize
	}
	return &ExpressionTable{
		entries: make(map[ExpressionKey]*VectorizedExpression),
		limit:   limit,
	}
}

func normalizeNode(node formula.Node) ExpressionKey {
	if node == nil {
		return ""
	}
	return ExpressionKey(node.String())
}

// Intern returns the program for node, compiling it with compile on a miss.
// failed compilations are not cached.
func (et *ExpressionTable) Intern(node formula.Node, compile func(formula.Node) (*VectorizedExpression, error)) (*VectorizedExpression, error) {
	key := normalizeNode(node)

	et.mu.Lock()
	if e, ok := et.entries[key]; ok {
		et.hits++
		et.mu.Unlock()
		return e, nil
	}
	et.misses++
	et.mu.Unlock()

	e, err := compile(node)
	if err != nil {
		return nil, err
	}

	et.mu.Lock()
	defer et.mu.Unlock()
	// another caller may have compiled the same tree meanwhile
	if existing, ok := et.entries[key]; ok {
		return existing, nil
	}
	if len(et.order) >= et.limit {
		oldest := et.order[0]
		et.order = et.order[1:]
		delete(et.entries, oldest)
	}
	et.entries[key] = e
	et.order = append(et.order, key)
	return e, nil
}

// Count returns the number of cached programs
func (et *ExpressionTable) Count() int {
	et.mu.Lock()
	defer et.mu.Unlock()
	return len(et.entries)
}

// Stats reports cache hits and misses since creation.
func (et *ExpressionTable) Stats() (hits, misses uint64) {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.hits, et.misses
}

// Clear removes all cached programs
func (et *ExpressionTable) Clear() {
	et.mu.Lock()
	defer et.mu.Unlock()
	et.entries = make(map[ExpressionKey]*VectorizedExpression)
	et.order = nil
}
