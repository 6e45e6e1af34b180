package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bumbelbee777/astraldb/internal/codec"
)

// snapshotKey is the fixed key the snapshot frame is encrypted under.
var snapshotKey = [codec.KeySize]byte{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
	0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F,
}

// emptyToken stands in for the empty string in the whitespace-delimited
// snapshot form, which cannot otherwise represent it. It never appears in
// tokenized SQL input.
const emptyToken = "\x01"

func writeToken(s string) string {
	if s == "" {
		return emptyToken
	}
	return s
}

func readToken(s string) string {
	if s == emptyToken {
		return ""
	}
	return s
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// serializeLocked renders the store in the textual snapshot grammar:
// schemas (name, column count, one line per column) followed by tables
// (name, row count, then per row a cell count and name/value token pairs).
func (e *Engine) serializeLocked() []byte {
	var buf bytes.Buffer

	names := make([]string, 0, len(e.schemas))
	for name := range e.schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(&buf, "%d\n", len(names))
	for _, name := range names {
		fmt.Fprintf(&buf, "%s\n", name)
		schema := e.schemas[name]
		fmt.Fprintf(&buf, "%d\n", len(schema))
		for _, col := range schema {
			fmt.Fprintf(&buf, "%s %d %d %d %s\n",
				col.Name,
				boolDigit(col.PrimaryKey), boolDigit(col.Unique), boolDigit(col.NotNull),
				writeToken(col.Default))
		}
	}

	tableNames := make([]string, 0, len(e.tables))
	for name := range e.tables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	fmt.Fprintf(&buf, "%d\n", len(tableNames))
	for _, name := range tableNames {
		fmt.Fprintf(&buf, "%s\n", name)
		rows := e.tables[name]
		fmt.Fprintf(&buf, "%d\n", len(rows))
		for _, row := range rows {
			fmt.Fprintf(&buf, "%d\n", len(row))
			cols := make([]string, 0, len(row))
			for col := range row {
				cols = append(cols, col)
			}
			sort.Strings(cols)
			for _, col := range cols {
				fmt.Fprintf(&buf, "%s\n%s\n", col, writeToken(row[col]))
			}
		}
	}
	return buf.Bytes()
}

// syncToFileLocked writes the snapshot: serialize, compress, encrypt, then a
// single whole-file write.
func (e *Engine) syncToFileLocked() error {
	raw := e.serializeLocked()
	frame, err := codec.Seal(snapshotKey, codec.Compress(raw))
	if err != nil {
		return errors.Wrap(err, "seal snapshot")
	}
	if err := os.WriteFile(e.opts.Path, frame, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	e.log.WithField("path", e.opts.Path).Debug("database synced to file")
	return nil
}

// SyncToFile writes the snapshot under the engine lock.
func (e *Engine) SyncToFile() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncToFileLocked()
}

type tokenReader struct {
	sc *bufio.Scanner
}

func newTokenReader(data []byte) *tokenReader {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)
	return &tokenReader{sc: sc}
}

func (r *tokenReader) next() (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", errors.Wrap(ErrSnapshotCorrupt, "unexpected end of snapshot")
	}
	return r.sc.Text(), nil
}

func (r *tokenReader) nextInt() (int, error) {
	tok, err := r.next()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(ErrSnapshotCorrupt, "bad count %q", tok)
	}
	return n, nil
}

func (r *tokenReader) nextBool() (bool, error) {
	tok, err := r.next()
	if err != nil {
		return false, err
	}
	switch tok {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, errors.Wrapf(ErrSnapshotCorrupt, "bad flag %q", tok)
}

// LoadFromFile reads, decrypts, decompresses, and reconstructs the store
// from path. On any structural error the store is left empty and the error
// reported.
func (e *Engine) LoadFromFile(path string) error {
	frame, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "open snapshot")
	}

	var schemas map[string]Schema
	var tables map[string]Table
	raw, err := codec.Open(snapshotKey, frame)
	if err != nil {
		err = errors.Wrap(err, "decrypt snapshot")
	} else {
		schemas, tables, err = parseSnapshot(codec.Decompress(raw))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.schemas = make(map[string]Schema)
	e.tables = make(map[string]Table)
	e.indexes = make(map[string]map[string]*Index)
	e.foreignKeys = make(map[string][]ForeignKey)
	if err != nil {
		return err
	}
	e.schemas = schemas
	e.tables = tables
	return nil
}

func parseSnapshot(data []byte) (map[string]Schema, map[string]Table, error) {
	r := newTokenReader(data)

	schemaCount, err := r.nextInt()
	if err != nil {
		return nil, nil, err
	}
	schemas := make(map[string]Schema, schemaCount)
	for i := 0; i < schemaCount; i++ {
		name, err := r.next()
		if err != nil {
			return nil, nil, err
		}
		colCount, err := r.nextInt()
		if err != nil {
			return nil, nil, err
		}
		schema := make(Schema, 0, colCount)
		for j := 0; j < colCount; j++ {
			var col Column
			if col.Name, err = r.next(); err != nil {
				return nil, nil, err
			}
			if col.PrimaryKey, err = r.nextBool(); err != nil {
				return nil, nil, err
			}
			if col.Unique, err = r.nextBool(); err != nil {
				return nil, nil, err
			}
			if col.NotNull, err = r.nextBool(); err != nil {
				return nil, nil, err
			}
			def, err := r.next()
			if err != nil {
				return nil, nil, err
			}
			col.Default = readToken(def)
			schema = append(schema, col)
		}
		schemas[name] = schema
	}

	tableCount, err := r.nextInt()
	if err != nil {
		return nil, nil, err
	}
	tables := make(map[string]Table, tableCount)
	for i := 0; i < tableCount; i++ {
		name, err := r.next()
		if err != nil {
			return nil, nil, err
		}
		rowCount, err := r.nextInt()
		if err != nil {
			return nil, nil, err
		}
		rows := make(Table, 0, rowCount)
		for j := 0; j < rowCount; j++ {
			cellCount, err := r.nextInt()
			if err != nil {
				return nil, nil, err
			}
			row := make(Row, cellCount)
			for k := 0; k < cellCount; k++ {
				col, err := r.next()
				if err != nil {
					return nil, nil, err
				}
				value, err := r.next()
				if err != nil {
					return nil, nil, err
				}
				row[col] = readToken(value)
			}
			rows = append(rows, row)
		}
		tables[name] = rows
	}
	return schemas, tables, nil
}
