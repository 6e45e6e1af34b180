package engine

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Options{Path: filepath.Join(t.TempDir(), "astral.db")})
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func usersSchema() Schema {
	return Schema{
		{Name: "id", PrimaryKey: true, Unique: true, NotNull: true},
		{Name: "name", NotNull: true},
		{Name: "city", Default: "unknown"},
	}
}

func matchAll(Row) bool { return true }

func matchCol(col, value string) Predicate {
	return func(r Row) bool { return r[col] == value }
}

func TestCreateTable(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersSchema()))
	require.ErrorIs(t, e.CreateTable("users", usersSchema()), ErrAlreadyExists)

	schema, ok := e.Schema("users")
	require.True(t, ok)
	require.Len(t, schema, 3)
	require.True(t, e.Dirty())
}

func TestDropTableIdempotent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))
	require.NoError(t, e.AddIndex("users", "id"))

	e.DropTable("users")
	e.DropTable("users")

	_, ok := e.Schema("users")
	require.False(t, ok)
	_, ok = e.IndexOn("users", "id")
	require.False(t, ok)
}

func TestInsertSelectDelete(t *testing.T) {
	e := newTestEngine(t)
	require.ErrorIs(t, e.Insert("nope", Row{"a": "1"}), ErrNoSuchTable)

	require.NoError(t, e.CreateTable("users", usersSchema()))
	for i := 1; i <= 5; i++ {
		require.NoError(t, e.Insert("users", Row{"id": fmt.Sprint(i), "name": fmt.Sprintf("u%d", i)}))
	}

	rows, err := e.Select("users", matchAll)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	rows, err = e.Select("users", matchCol("id", "3"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "u3", rows[0]["name"])

	require.NoError(t, e.Delete("users", matchCol("id", "3")))
	rows, err = e.Select("users", matchAll)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	_, err = e.Select("nope", matchAll)
	require.ErrorIs(t, err, ErrNoSuchTable)
	require.ErrorIs(t, e.Delete("nope", matchAll), ErrNoSuchTable)
}

func TestUpdateRekeysIndexes(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))
	require.NoError(t, e.Insert("users", Row{"id": "1", "name": "ann"}))
	require.NoError(t, e.Insert("users", Row{"id": "2", "name": "bob"}))
	require.NoError(t, e.AddIndex("users", "name"))

	require.NoError(t, e.Update("users", matchCol("id", "1"), Row{"name": "anna"}))

	idx, ok := e.IndexOn("users", "name")
	require.True(t, ok)
	require.False(t, idx.Contains("ann"))
	slot, ok := idx.Lookup("anna")
	require.True(t, ok)
	require.Equal(t, 0, slot)

	rows, err := e.Select("users", matchCol("name", "anna"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "1", rows[0]["id"])

	require.ErrorIs(t, e.Update("nope", matchAll, Row{"a": "b"}), ErrNoSuchTable)
}

// Index consistency: after any insert/update mix, looking up an indexed
// column value lands on a slot holding that value.
func TestIndexConsistencyAfterMutation(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", Schema{{Name: "k"}, {Name: "v"}}))
	require.NoError(t, e.AddIndex("t", "k"))

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Insert("t", Row{"k": fmt.Sprintf("k%02d", i), "v": fmt.Sprint(i)}))
	}
	for i := 0; i < 50; i += 7 {
		key := fmt.Sprintf("k%02d", i)
		require.NoError(t, e.Update("t", matchCol("k", key), Row{"v": "updated"}))
	}

	idx, ok := e.IndexOn("t", "k")
	require.True(t, ok)
	e.mu.Lock()
	rows := e.tables["t"]
	e.mu.Unlock()
	for _, row := range rows {
		slot, found := idx.Lookup(row["k"])
		require.True(t, found, row["k"])
		require.Equal(t, row["k"], rows[slot]["k"])
	}
}

func TestSelectThroughIndexes(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", Schema{{Name: "a"}, {Name: "b"}}))
	require.NoError(t, e.Insert("t", Row{"a": "1", "b": "x"}))
	require.NoError(t, e.Insert("t", Row{"a": "2", "b": "y"}))
	require.NoError(t, e.AddIndex("t", "a"))

	rows, err := e.Select("t", matchAll)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// A second index over the same slots may surface duplicates; the scan
	// is the union of all indexed slots.
	require.NoError(t, e.AddIndex("t", "b"))
	rows, err = e.Select("t", matchAll)
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

func TestValidateRow(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))
	require.NoError(t, e.AddIndex("users", "id"))
	require.NoError(t, e.Insert("users", Row{"id": "1", "name": "ann"}))

	require.True(t, e.ValidateRow("users", Row{"id": "2", "name": "bob"}))
	// Missing primary key / not-null column.
	require.False(t, e.ValidateRow("users", Row{"name": "bob"}))
	require.False(t, e.ValidateRow("users", Row{"id": "2"}))
	// Unique collision through the index.
	require.False(t, e.ValidateRow("users", Row{"id": "1", "name": "dup"}))
	// Unknown table.
	require.False(t, e.ValidateRow("nope", Row{"id": "1"}))
}

func TestJoinOverlaysLeftOntoRight(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("l", Schema{{Name: "id"}, {Name: "who"}}))
	require.NoError(t, e.CreateTable("r", Schema{{Name: "id"}, {Name: "what"}}))
	require.NoError(t, e.Insert("l", Row{"id": "1", "who": "ann"}))
	require.NoError(t, e.Insert("r", Row{"id": "1", "what": "apple"}))
	require.NoError(t, e.Insert("r", Row{"id": "2", "what": "pear"}))

	rows, err := e.Join("l", "r", func(l, r Row) bool { return l["id"] == r["id"] })
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "ann", rows[0]["who"])
	require.Equal(t, "apple", rows[0]["what"])
	// Left overlays right on shared columns.
	require.Equal(t, "1", rows[0]["id"])

	_, err = e.Join("l", "nope", func(l, r Row) bool { return true })
	require.ErrorIs(t, err, ErrNoSuchTable)
}

func TestForeignKeyMetadata(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("orders", Schema{{Name: "id"}, {Name: "user_id"}}))
	e.AddForeignKey("orders", ForeignKey{Column: "user_id", ReferencedTable: "users", ReferencedColumn: "id"})

	fks := e.ForeignKeys("orders")
	require.Len(t, fks, 1)
	require.Equal(t, "users", fks[0].ReferencedTable)

	// Enforcement is best-effort: a dangling reference does not reject.
	require.NoError(t, e.Insert("orders", Row{"id": "1", "user_id": "404"}))
}

func TestAddIndexBackfillsAndRemoveIndexDrops(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", Schema{{Name: "k"}}))
	require.NoError(t, e.Insert("t", Row{"k": "a"}))
	require.NoError(t, e.Insert("t", Row{"k": "b"}))
	require.ErrorIs(t, e.AddIndex("nope", "k"), ErrNoSuchTable)

	require.NoError(t, e.AddIndex("t", "k"))
	idx, ok := e.IndexOn("t", "k")
	require.True(t, ok)
	require.Equal(t, 2, idx.Len())
	require.Equal(t, []string{"a", "b"}, idx.Keys())

	e.RemoveIndex("t", "k")
	_, ok = e.IndexOn("t", "k")
	require.False(t, ok)
}

func TestIndexBackends(t *testing.T) {
	for _, kind := range []IndexKind{IndexBPTree, IndexSkipList, IndexSortedArray} {
		e := newTestEngine(t)
		require.NoError(t, e.CreateTable("t", Schema{{Name: "k"}}))
		for i := 0; i < 20; i++ {
			require.NoError(t, e.Insert("t", Row{"k": fmt.Sprintf("k%02d", i)}))
		}
		require.NoError(t, e.AddIndexKind("t", "k", kind))

		idx, ok := e.IndexOn("t", "k")
		require.True(t, ok)
		require.Equal(t, kind, idx.Kind)
		slot, found := idx.Lookup("k07")
		require.True(t, found)
		require.Equal(t, 7, slot)
		require.Len(t, idx.Range("k05", "k09"), 5)
	}
}

func TestGrantRevokeHasPermission(t *testing.T) {
	e := newTestEngine(t)

	e.Grant("alice", PermSelect, "t")
	require.True(t, e.HasPermission("alice", PermSelect, "t"))
	require.False(t, e.HasPermission("alice", PermInsert, "t"))
	require.False(t, e.HasPermission("bob", PermSelect, "t"))

	// Grants accumulate (ACL monotonicity).
	e.Grant("alice", PermInsert, "t")
	require.True(t, e.HasPermission("alice", PermSelect, "t"))
	require.True(t, e.HasPermission("alice", PermInsert, "t"))

	// Global grant applies to any table.
	e.Grant("alice", PermDelete, "")
	require.True(t, e.HasPermission("alice", PermDelete, "other"))

	e.Revoke("alice", PermInsert, "t")
	require.False(t, e.HasPermission("alice", PermInsert, "t"))
	require.True(t, e.HasPermission("alice", PermSelect, "t"))

	require.Equal(t, PermSelect, e.UserPermissions("alice", "t"))
	require.Equal(t, PermDelete, e.UserPermissions("alice", "elsewhere"))
	require.Equal(t, Permissions(0), e.UserPermissions("nobody", "t"))
}

func TestAuthenticateLogout(t *testing.T) {
	e := newTestEngine(t)
	e.AddUser("alice", "sekrit")

	require.False(t, e.AuthenticateUser("alice", "wrong"))
	require.False(t, e.IsAuthenticated())

	require.True(t, e.AuthenticateUser("alice", "sekrit"))
	require.True(t, e.IsAuthenticated())
	require.Equal(t, "alice", e.CurrentUser().Name)

	// A failed attempt leaves the session user unchanged.
	require.False(t, e.AuthenticateUser("alice", "wrong"))
	require.True(t, e.IsAuthenticated())

	e.Logout()
	require.False(t, e.IsAuthenticated())
}

func TestOwnerBootstrap(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.AuthenticateUser("Admin0", "admin"))
	require.True(t, e.HasPermission("Admin0", PermAll, "anything"))
}

func TestRegenerateSessionSaltInvalidatesVerifiers(t *testing.T) {
	e := newTestEngine(t)
	e.AddUser("alice", "sekrit")
	require.True(t, e.AuthenticateUser("alice", "sekrit"))

	e.RegenerateSessionSalt()
	require.False(t, e.AuthenticateUser("alice", "sekrit"))
}

func TestFlusherWritesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astral.db")
	e := New(Options{Path: path})
	defer e.Close()

	require.NoError(t, e.CreateTable("t", Schema{{Name: "k"}}))
	require.NoError(t, e.Insert("t", Row{"k": "v"}))

	require.Eventually(t, func() bool { return !e.Dirty() }, 2*time.Second, 10*time.Millisecond)
	require.FileExists(t, path)
}

func TestPermissionNames(t *testing.T) {
	p, ok := ParsePermission("select")
	require.True(t, ok)
	require.Equal(t, PermSelect, p)

	p, ok = ParsePermission("ALL")
	require.True(t, ok)
	require.Equal(t, PermAll, p)

	_, ok = ParsePermission("fly")
	require.False(t, ok)

	require.Equal(t, "SELECT|INSERT", (PermSelect | PermInsert).String())
	require.Equal(t, "ALL", PermAll.String())
}
