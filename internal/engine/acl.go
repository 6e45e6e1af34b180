package engine

import "strings"

// Permissions is the flag set a grant carries.
type Permissions uint8

const (
	PermSelect     Permissions = 1
	PermInsert     Permissions = 2
	PermUpdate     Permissions = 4
	PermDelete     Permissions = 8
	PermTruncate   Permissions = 16
	PermReferences Permissions = 32
	PermTrigger    Permissions = 64
	PermAll        Permissions = 127
)

var permNames = []struct {
	bit  Permissions
	name string
}{
	{PermSelect, "SELECT"},
	{PermInsert, "INSERT"},
	{PermUpdate, "UPDATE"},
	{PermDelete, "DELETE"},
	{PermTruncate, "TRUNCATE"},
	{PermReferences, "REFERENCES"},
	{PermTrigger, "TRIGGER"},
}

// ParsePermission maps a permission keyword to its bit. ALL covers every bit.
func ParsePermission(name string) (Permissions, bool) {
	upper := strings.ToUpper(name)
	if upper == "ALL" {
		return PermAll, true
	}
	for _, p := range permNames {
		if p.name == upper {
			return p.bit, true
		}
	}
	return 0, false
}

func (p Permissions) String() string {
	if p == PermAll {
		return "ALL"
	}
	var parts []string
	for _, n := range permNames {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit of want is present.
func (p Permissions) Has(want Permissions) bool {
	return p&want == want
}

// aclEntry is one user's grants, keyed by table name. The empty table key is
// the global, cross-table grant.
type aclEntry map[string]Permissions

// Grant ORs perms into the user's entry for table (empty table = global).
// Callers hold the engine lock.
func (e *Engine) grantLocked(user string, perms Permissions, table string) {
	entry, ok := e.acls.Lookup(user)
	if !ok {
		entry = aclEntry{}
	}
	entry[table] |= perms
	e.acls.Insert(user, entry)
}

func (e *Engine) revokeLocked(user string, perms Permissions, table string) {
	entry, ok := e.acls.Lookup(user)
	if !ok {
		entry = aclEntry{}
	}
	entry[table] &^= perms
	e.acls.Insert(user, entry)
}

// Grant adds perms for user on table; an empty table name grants globally.
func (e *Engine) Grant(user string, perms Permissions, table string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.grantLocked(user, perms, table)
	e.dirty.Store(true)
}

// Revoke removes perms for user on table.
func (e *Engine) Revoke(user string, perms Permissions, table string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revokeLocked(user, perms, table)
	e.dirty.Store(true)
}

// HasPermission reports whether the user holds every bit of perms on the
// table, either directly or through a global grant.
func (e *Engine) HasPermission(user string, perms Permissions, table string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.acls.Lookup(user)
	if !ok {
		return false
	}
	if table != "" {
		if granted, ok := entry[table]; ok && granted.Has(perms) {
			return true
		}
	}
	if granted, ok := entry[""]; ok {
		return granted.Has(perms)
	}
	return false
}

// UserPermissions returns the user's effective bitset for a table, falling
// back to the global entry.
func (e *Engine) UserPermissions(user, table string) Permissions {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.acls.Lookup(user)
	if !ok {
		return 0
	}
	if table != "" {
		if granted, ok := entry[table]; ok {
			return granted
		}
	}
	return entry[""]
}
