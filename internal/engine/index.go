package engine

import (
	"strings"

	"github.com/bumbelbee777/astraldb/internal/container"
)

// IndexKind selects the ordered-map backend of a secondary index.
type IndexKind int

const (
	IndexBPTree IndexKind = iota
	IndexSkipList
	IndexSortedArray
)

// Index maps column values to row slot indices through one of the ordered
// backends. All backends expose point lookup, membership, range scan, and
// in-order key enumeration.
type Index struct {
	Kind IndexKind
	container.OrderedMap[string, int]
}

// newIndex builds an index of the given kind. The branching factor applies
// to the B+ tree backend only.
func newIndex(kind IndexKind, branching int) *Index {
	idx := &Index{Kind: kind}
	switch kind {
	case IndexSkipList:
		idx.OrderedMap = container.NewSkipList[string, int](strings.Compare)
	case IndexSortedArray:
		idx.OrderedMap = container.NewSortedArray[string, int](strings.Compare)
	default:
		idx.OrderedMap = container.NewBPTree[string, int](branching, strings.Compare)
	}
	return idx
}

// AddIndex creates (or reuses) the index on (table, column) and backfills it
// from the rows that define the column. Dirty is set only when the backfill
// inserted at least one entry.
func (e *Engine) AddIndex(table, column string) error {
	return e.AddIndexKind(table, column, IndexBPTree)
}

// AddIndexKind is AddIndex with an explicit backend choice.
func (e *Engine) AddIndexKind(table, column string, kind IndexKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.tables[table]
	if !ok {
		return ErrNoSuchTable
	}

	if e.indexes[table] == nil {
		e.indexes[table] = make(map[string]*Index)
	}
	idx, ok := e.indexes[table][column]
	if !ok {
		idx = newIndex(kind, e.opts.IndexBranching)
		e.indexes[table][column] = idx
	}

	inserted := false
	for slot, row := range rows {
		if value, defined := row[column]; defined {
			idx.Insert(value, slot)
			inserted = true
		}
	}
	if inserted {
		e.dirty.Store(true)
	}
	return nil
}

// RemoveIndex drops the index on (table, column) if present.
func (e *Engine) RemoveIndex(table, column string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.indexes[table], column)
}

// IndexOn returns the index on (table, column).
func (e *Engine) IndexOn(table, column string) (*Index, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.indexes[table][column]
	return idx, ok
}
