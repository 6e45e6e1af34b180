// Package engine implements the AstralDB store: schema registry, row tables,
// secondary indexes, foreign-key metadata, ACLs, users, and the encrypted
// snapshot the whole state is persisted to.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bumbelbee777/astraldb/internal/container"
)

// Column describes one schema column. Column types live in the SQL layer as
// display strings; the data plane stores every value as a string, so the
// storage descriptor carries constraints and the default only.
type Column struct {
	Name       string
	PrimaryKey bool
	Unique     bool
	NotNull    bool
	Default    string
}

// Schema is an ordered column sequence. Column names are unique within it.
type Schema []Column

// Row maps column names to values. A row need not carry every schema column;
// absent columns take the column default on read.
type Row map[string]string

// Table is an ordered row sequence. A row's position is its slot index;
// slots are dense but not stable across deletes.
type Table []Row

// Predicate selects rows.
type Predicate func(Row) bool

// JoinPredicate selects combined row pairs.
type JoinPredicate func(left, right Row) bool

// ForeignKey declares a reference from a column to another table's column.
// It is metadata; enforcement at insert time is best-effort.
type ForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Options configures an Engine.
type Options struct {
	// Path of the snapshot file.
	Path string
	// Logger receives engine lifecycle and flusher events. Defaults to the
	// standard logrus logger.
	Logger *log.Logger
	// FlushDelay is the flusher's batch delay once the store is dirty.
	FlushDelay time.Duration
	// IdleDelay is the flusher's poll interval while clean.
	IdleDelay time.Duration
	// IndexBranching is the B+ tree branching factor for new indexes.
	IndexBranching int
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = 50 * time.Millisecond
	}
	if o.IdleDelay <= 0 {
		o.IdleDelay = 10 * time.Millisecond
	}
	if o.IndexBranching < container.DefaultOrder {
		o.IndexBranching = container.DefaultOrder
	}
}

// Engine is the in-memory store. One exclusive lock covers all shared state;
// every mutator sets the dirty flag the background flusher observes.
type Engine struct {
	mu          sync.Mutex
	schemas     map[string]Schema
	tables      map[string]Table
	indexes     map[string]map[string]*Index
	foreignKeys map[string][]ForeignKey
	acls        *container.RadixTree[aclEntry]
	users       []*User
	currentUser *User
	auth        *authState

	opts  Options
	log   *log.Logger
	dirty atomic.Bool

	stopFlusher chan struct{}
	flusherDone chan struct{}
	health      chan error
}

// New opens an engine over the snapshot at opts.Path, loading the previous
// state when the file exists, and starts the background flusher. The owner
// user Admin0 is registered with a global all-permissions grant.
func New(opts Options) *Engine {
	opts.withDefaults()
	e := &Engine{
		schemas:     make(map[string]Schema),
		tables:      make(map[string]Table),
		indexes:     make(map[string]map[string]*Index),
		foreignKeys: make(map[string][]ForeignKey),
		acls:        container.NewRadixTree[aclEntry](),
		auth:        newAuthState(),
		opts:        opts,
		log:         opts.Logger,
		stopFlusher: make(chan struct{}),
		flusherDone: make(chan struct{}),
		health:      make(chan error, 1),
	}

	owner := e.auth.newUser("Admin0", "admin")
	e.users = append(e.users, owner)
	e.grantLocked(owner.Name, PermAll, "")

	if err := e.LoadFromFile(opts.Path); err != nil {
		e.log.WithError(err).Debug("no snapshot loaded")
	}

	go e.flushWorker()
	e.log.WithField("path", opts.Path).Info("database initialized")
	return e
}

// Close stops and joins the flusher, then writes a final snapshot if the
// store is still dirty.
func (e *Engine) Close() error {
	close(e.stopFlusher)
	<-e.flusherDone

	var err error
	if e.dirty.Load() {
		e.mu.Lock()
		err = e.syncToFileLocked()
		e.mu.Unlock()
		if err == nil {
			e.dirty.Store(false)
		}
	}
	e.log.Info("database closed")
	return err
}

// Path returns the snapshot path.
func (e *Engine) Path() string { return e.opts.Path }

// CreateTable registers a schema and an empty table under name.
func (e *Engine) CreateTable(name string, schema Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.schemas[name]; ok {
		return ErrAlreadyExists
	}
	e.schemas[name] = schema
	e.tables[name] = Table{}
	e.dirty.Store(true)
	return nil
}

// DropTable erases the schema, rows, indexes, and foreign keys of name.
// Dropping an absent table is a no-op.
func (e *Engine) DropTable(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.schemas, name)
	delete(e.tables, name)
	delete(e.indexes, name)
	delete(e.foreignKeys, name)
	e.dirty.Store(true)
}

// Schema returns the schema registered for a table.
func (e *Engine) Schema(table string) (Schema, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.schemas[table]
	return s, ok
}

// Tables returns the registered table names.
func (e *Engine) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.tables))
	for name := range e.tables {
		out = append(out, name)
	}
	return out
}

// Insert appends row to the table and adds an index entry for every indexed
// column the row defines. Foreign keys are checked best-effort: a dangling
// reference is logged, not rejected.
func (e *Engine) Insert(table string, row Row) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.tables[table]
	if !ok {
		return ErrNoSuchTable
	}

	for _, fk := range e.foreignKeys[table] {
		value, defined := row[fk.Column]
		if !defined {
			continue
		}
		if !e.referenceExistsLocked(fk, value) {
			e.log.WithFields(log.Fields{
				"table": table, "column": fk.Column,
				"ref_table": fk.ReferencedTable, "value": value,
			}).Warn("insert references missing foreign row")
		}
	}

	slot := len(rows)
	e.tables[table] = append(rows, row)
	for column, value := range row {
		if idx, ok := e.indexes[table][column]; ok {
			idx.Insert(value, slot)
		}
	}
	e.dirty.Store(true)
	return nil
}

func (e *Engine) referenceExistsLocked(fk ForeignKey, value string) bool {
	if idx, ok := e.indexes[fk.ReferencedTable][fk.ReferencedColumn]; ok {
		return idx.Contains(value)
	}
	for _, row := range e.tables[fk.ReferencedTable] {
		if row[fk.ReferencedColumn] == value {
			return true
		}
	}
	return false
}

// Delete removes every row matching pred, dropping the matched rows' index
// entries first and then compacting the row sequence. Index entries of
// surviving rows keep their old slot numbers.
func (e *Engine) Delete(table string, pred Predicate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.tables[table]
	if !ok {
		return ErrNoSuchTable
	}

	removed := false
	for _, row := range rows {
		if !pred(row) {
			continue
		}
		removed = true
		for column, value := range row {
			if idx, ok := e.indexes[table][column]; ok {
				idx.Remove(value)
			}
		}
	}
	if removed {
		kept := rows[:0]
		for _, row := range rows {
			if !pred(row) {
				kept = append(kept, row)
			}
		}
		e.tables[table] = kept
		e.dirty.Store(true)
	}
	return nil
}

// Update overwrites newValues into every row matching pred, re-keying the
// affected index entries in the same critical section.
func (e *Engine) Update(table string, pred Predicate, newValues Row) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.tables[table]
	if !ok {
		return ErrNoSuchTable
	}

	modified := false
	for slot, row := range rows {
		if !pred(row) {
			continue
		}
		for column, value := range newValues {
			if idx, ok := e.indexes[table][column]; ok {
				idx.Remove(row[column])
				idx.Insert(value, slot)
			}
			row[column] = value
		}
		modified = true
	}
	if modified {
		e.dirty.Store(true)
	}
	return nil
}

// Select returns every row matching pred. When the table carries indexes the
// scan walks the union of all indexed slots (a slot reachable through more
// than one index is visited once per index); otherwise rows are scanned in
// slot order.
func (e *Engine) Select(table string, pred Predicate) (Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, ok := e.tables[table]
	if !ok {
		return nil, ErrNoSuchTable
	}

	var result Table
	if len(e.indexes[table]) > 0 {
		for _, idx := range e.indexes[table] {
			for _, key := range idx.Keys() {
				slot, ok := idx.Lookup(key)
				if !ok || slot >= len(rows) {
					continue
				}
				if row := rows[slot]; pred(row) {
					result = append(result, row)
				}
			}
		}
		return result, nil
	}

	for _, row := range rows {
		if pred(row) {
			result = append(result, row)
		}
	}
	return result, nil
}

// Join nested-loops the two tables; a combined row takes the right row's
// columns with the left row's columns overlaid on top.
func (e *Engine) Join(left, right string, pred JoinPredicate) (Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	leftRows, ok := e.tables[left]
	if !ok {
		return nil, ErrNoSuchTable
	}
	rightRows, ok := e.tables[right]
	if !ok {
		return nil, ErrNoSuchTable
	}

	var result Table
	for _, l := range leftRows {
		for _, r := range rightRows {
			if !pred(l, r) {
				continue
			}
			combined := make(Row, len(l)+len(r))
			for k, v := range r {
				combined[k] = v
			}
			for k, v := range l {
				combined[k] = v
			}
			result = append(result, combined)
		}
	}
	return result, nil
}

// ValidateRow checks row against the table's constraints: primary-key and
// not-null columns must be present, and unique columns must not collide with
// an indexed value.
func (e *Engine) ValidateRow(table string, row Row) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	schema, ok := e.schemas[table]
	if !ok {
		return false
	}
	for _, col := range schema {
		value, defined := row[col.Name]
		if (col.PrimaryKey || col.NotNull) && !defined {
			return false
		}
		if col.Unique && defined {
			if idx, ok := e.indexes[table][col.Name]; ok && idx.Contains(value) {
				return false
			}
		}
	}
	return true
}

// AddForeignKey records a foreign-key declaration for table.
func (e *Engine) AddForeignKey(table string, fk ForeignKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.foreignKeys[table] = append(e.foreignKeys[table], fk)
}

// ForeignKeys returns the declarations recorded for table.
func (e *Engine) ForeignKeys(table string) []ForeignKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ForeignKey(nil), e.foreignKeys[table]...)
}
