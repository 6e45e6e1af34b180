package bytecode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bumbelbee777/astraldb/internal/engine"
	"github.com/bumbelbee777/astraldb/internal/sql"
)

func emitSQL(t *testing.T, source string) Program {
	t.Helper()
	stmts, errs := sql.Parse(source)
	require.Empty(t, errs)
	code, err := Generate(stmts)
	require.NoError(t, err)
	return code
}

func TestEmitCreateTable(t *testing.T) {
	code := emitSQL(t, "CREATE TABLE t (id INT PRIMARY KEY, v TEXT)")
	require.Equal(t, CREATE_TABLE, code[0].Op)
	require.Equal(t, "t", code[0].Operands[0].Str)

	// Descriptors follow as PUSH sequences: name, type, constraints.
	var words []string
	for _, inst := range code[1:] {
		require.Equal(t, PUSH, inst.Op)
		words = append(words, inst.Operands[0].Str)
	}
	require.Equal(t, []string{"id", "INT", "PRIMARY", "KEY", "v", "TEXT"}, words)
}

func TestEmitSelect(t *testing.T) {
	code := emitSQL(t, "SELECT id,v FROM t")
	require.Len(t, code, 3)
	require.Equal(t, PUSH, code[0].Op)
	require.Equal(t, "id", code[0].Operands[0].Str)
	require.Equal(t, PUSH, code[1].Op)
	require.Equal(t, SELECT, code[2].Op)
	require.Equal(t, "t", code[2].Operands[0].Str)
}

func TestEmitInsertPairsOperands(t *testing.T) {
	code := emitSQL(t, "INSERT INTO t (id,v) VALUES (1,a)")
	require.Len(t, code, 1)
	inst := code[0]
	require.Equal(t, INSERT, inst.Op)
	require.Equal(t, "t", inst.Operands[0].Str)
	require.Equal(t, "id", inst.Operands[1].Str)
	require.Equal(t, "1", inst.Operands[2].Str)
	require.Equal(t, "v", inst.Operands[3].Str)
	require.Equal(t, "a", inst.Operands[4].Str)
}

func TestEmitUpdateWithWhere(t *testing.T) {
	code := emitSQL(t, "UPDATE t SET v=z WHERE id=1")
	require.Equal(t, UPDATE, code[0].Op)
	require.Equal(t, []Value{Str("t"), Str("v"), Str("z")}, code[0].Operands)
	require.Equal(t, WHERE, code[1].Op)
	require.Equal(t, PUSH, code[2].Op)
	require.Equal(t, Str("id"), code[2].Operands[0])
	require.Equal(t, PUSH, code[3].Op)
	require.Equal(t, Int64(1), code[3].Operands[0])
	require.Equal(t, EQ, code[4].Op)
	require.Equal(t, HALT, code[5].Op)
}

func TestEmitUpdateMultipleAssignments(t *testing.T) {
	code := emitSQL(t, "UPDATE t SET a=1, b=2")
	require.Equal(t, UPDATE, code[0].Op)
	require.Equal(t, UPDATE, code[1].Op)
	require.Equal(t, HALT, code[2].Op)
}

func TestEmitDelete(t *testing.T) {
	code := emitSQL(t, "DELETE FROM t WHERE id=2")
	require.Equal(t, DELETE, code[0].Op)
	require.Equal(t, WHERE, code[1].Op)
	require.Equal(t, HALT, code[len(code)-1].Op)

	code = emitSQL(t, "DELETE FROM t")
	require.Len(t, code, 2)
	require.Equal(t, DELETE, code[0].Op)
	require.Equal(t, HALT, code[1].Op)
}

func TestEmitGrantRevoke(t *testing.T) {
	code := emitSQL(t, "GRANT SELECT ON t TO alice")
	require.Len(t, code, 1)
	require.Equal(t, GRANT, code[0].Op)
	require.Equal(t, Str("alice"), code[0].Operands[0])
	require.Equal(t, Int64(int64(engine.PermSelect)), code[0].Operands[1])
	require.Equal(t, Str("t"), code[0].Operands[2])

	code = emitSQL(t, "REVOKE ALL FROM bob")
	require.Equal(t, REVOKE, code[0].Op)
	require.Equal(t, Int64(int64(engine.PermAll)), code[0].Operands[1])
	require.Equal(t, Str(""), code[0].Operands[2])
}

func TestEmitExpressionPostfixOrder(t *testing.T) {
	code := emitSQL(t, "DELETE FROM t WHERE a + 2 * 3 = 7")
	// a 2 3 MUL ADD 7 EQ
	ops := make([]Opcode, 0, len(code))
	for _, inst := range code[2 : len(code)-1] {
		ops = append(ops, inst.Op)
	}
	require.Equal(t, []Opcode{PUSH, PUSH, PUSH, MUL, ADD, PUSH, EQ}, ops)
}

// Re-emitting from the same AST yields an equal instruction sequence.
func TestEmitDeterministic(t *testing.T) {
	source := strings.Join([]string{
		"CREATE TABLE t (id INT PRIMARY KEY, v TEXT)",
		"INSERT INTO t (id,v) VALUES (1,a)",
		"UPDATE t SET v=z WHERE id=1",
		"DELETE FROM t WHERE id=1 OR v=z",
		"SELECT id,v FROM t",
		"GRANT SELECT ON t TO alice",
	}, ";\n")

	stmts, errs := sql.Parse(source)
	require.Empty(t, errs)

	first, err := Generate(stmts)
	require.NoError(t, err)
	second, err := Generate(stmts)
	require.NoError(t, err)
	require.True(t, first.Equal(second))
}

func TestLitClassification(t *testing.T) {
	require.Equal(t, KindInt, Lit("42").Kind)
	require.Equal(t, KindFloat, Lit("4.5").Kind)
	require.Equal(t, KindString, Lit("abc").Kind)
	require.Equal(t, int64(-7), Lit("-7").Int)
}

func TestDisassemble(t *testing.T) {
	p := Program{
		Inst(PUSH, Int64(2)),
		Inst(PUSH, Int64(3)),
		Inst(ADD),
		Inst(HALT),
	}
	text := Disassemble(p)
	require.Contains(t, text, "0: PUSH [2 ]")
	require.Contains(t, text, "2: ADD")
	require.Contains(t, text, "3: HALT")
}
