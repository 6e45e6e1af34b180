package sql

import "github.com/bumbelbee777/astraldb/internal/engine"

// Statement is the root interface for all SQL statements.
type Statement interface {
	stmtNode()
}

// Expr is a value-producing expression node.
type Expr interface {
	exprNode()
}

// ColumnDef is one column of a CREATE TABLE statement. The type is carried
// as its display string; constraints are the raw constraint keywords in
// source order.
type ColumnDef struct {
	Name        string
	Type        string
	Constraints []string
}

// CreateTableStmt is CREATE TABLE name (col type [constraints...], ...).
type CreateTableStmt struct {
	TableName string
	Columns   []ColumnDef
}

func (*CreateTableStmt) stmtNode() {}

// SelectStmt is SELECT col[, col...] FROM table.
type SelectStmt struct {
	Columns []string
	Table   *TableRef
}

func (*SelectStmt) stmtNode() {}

// InsertStmt is INSERT INTO table (cols) VALUES (vals).
type InsertStmt struct {
	Table   *TableRef
	Columns []string
	Values  []string
}

func (*InsertStmt) stmtNode() {}

// Assignment is one column = value pair of an UPDATE.
type Assignment struct {
	Column string
	Value  string
}

// UpdateStmt is UPDATE table SET assignments [WHERE expr].
type UpdateStmt struct {
	TableName   string
	Assignments []Assignment
	Where       Expr
}

func (*UpdateStmt) stmtNode() {}

// DeleteStmt is DELETE FROM table [WHERE expr].
type DeleteStmt struct {
	TableName string
	Where     Expr
}

func (*DeleteStmt) stmtNode() {}

// GrantStmt is GRANT perms [ON table] TO user. An empty table is a global
// grant.
type GrantStmt struct {
	User      string
	Perms     engine.Permissions
	TableName string
}

func (*GrantStmt) stmtNode() {}

// RevokeStmt is REVOKE perms [ON table] FROM user.
type RevokeStmt struct {
	User      string
	Perms     engine.Permissions
	TableName string
}

func (*RevokeStmt) stmtNode() {}

// LiteralExpr is a bare literal or identifier; resolution to a column or
// constant happens at evaluation time.
type LiteralExpr struct {
	Value string
}

func (*LiteralExpr) exprNode() {}

// TableRef names a table inside another statement.
type TableRef struct {
	Name string
}

func (*TableRef) exprNode() {}

// BinaryOpExpr applies Op to two subexpressions.
type BinaryOpExpr struct {
	Op  string
	LHS Expr
	RHS Expr
}

func (*BinaryOpExpr) exprNode() {}
