package bytecode

import (
	"github.com/pkg/errors"

	"github.com/bumbelbee777/astraldb/internal/sql"
)

// Emit lowers a single statement to its instruction sequence.
func Emit(stmt sql.Statement) (Program, error) {
	switch s := stmt.(type) {
	case *sql.CreateTableStmt:
		return emitCreate(s), nil
	case *sql.SelectStmt:
		return emitSelect(s), nil
	case *sql.InsertStmt:
		return emitInsert(s), nil
	case *sql.UpdateStmt:
		return emitUpdate(s)
	case *sql.DeleteStmt:
		return emitDelete(s)
	case *sql.GrantStmt:
		return Program{Inst(GRANT, Str(s.User), Int64(int64(s.Perms)), Str(s.TableName))}, nil
	case *sql.RevokeStmt:
		return Program{Inst(REVOKE, Str(s.User), Int64(int64(s.Perms)), Str(s.TableName))}, nil
	}
	return nil, errors.Errorf("bytecode: no lowering for statement %T", stmt)
}

// Generate lowers every statement in order into one program.
func Generate(stmts []sql.Statement) (Program, error) {
	var out Program
	for _, stmt := range stmts {
		code, err := Emit(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, code...)
	}
	return out, nil
}

// emitCreate produces CREATE_TABLE followed by the column descriptors as
// PUSH sequences: name, type, then each constraint keyword.
func emitCreate(s *sql.CreateTableStmt) Program {
	code := Program{Inst(CREATE_TABLE, Str(s.TableName))}
	for _, col := range s.Columns {
		code = append(code, Inst(PUSH, Str(col.Name)), Inst(PUSH, Str(col.Type)))
		for _, c := range col.Constraints {
			code = append(code, Inst(PUSH, Str(c)))
		}
	}
	return code
}

// emitSelect pushes the projection columns, then hands the table to SELECT.
func emitSelect(s *sql.SelectStmt) Program {
	var code Program
	for _, col := range s.Columns {
		code = append(code, Inst(PUSH, Str(col)))
	}
	return append(code, Inst(SELECT, Str(s.Table.Name)))
}

// emitInsert produces one INSERT instruction whose operands are the table
// followed by alternating column/value pairs.
func emitInsert(s *sql.InsertStmt) Program {
	operands := []Value{Str(s.Table.Name)}
	for i, col := range s.Columns {
		operands = append(operands, Str(col))
		if i < len(s.Values) {
			operands = append(operands, Str(s.Values[i]))
		} else {
			operands = append(operands, Str(""))
		}
	}
	return Program{Instruction{Op: INSERT, Operands: operands}}
}

// emitUpdate produces one UPDATE instruction per assignment, then the WHERE
// marker and predicate program, closed by HALT.
func emitUpdate(s *sql.UpdateStmt) (Program, error) {
	var code Program
	for _, a := range s.Assignments {
		code = append(code, Inst(UPDATE, Str(s.TableName), Str(a.Column), Str(a.Value)))
	}
	code, err := appendWhere(code, s.Where)
	if err != nil {
		return nil, err
	}
	return append(code, Inst(HALT)), nil
}

func emitDelete(s *sql.DeleteStmt) (Program, error) {
	code := Program{Inst(DELETE, Str(s.TableName))}
	code, err := appendWhere(code, s.Where)
	if err != nil {
		return nil, err
	}
	return append(code, Inst(HALT)), nil
}

func appendWhere(code Program, where sql.Expr) (Program, error) {
	if where == nil {
		return code, nil
	}
	code = append(code, Inst(WHERE))
	cond, err := EmitExpr(where)
	if err != nil {
		return nil, err
	}
	return append(code, cond...), nil
}

// EmitExpr lowers an expression: operands first, operator last.
func EmitExpr(expr sql.Expr) (Program, error) {
	switch e := expr.(type) {
	case *sql.LiteralExpr:
		return Program{Inst(PUSH, Lit(e.Value))}, nil
	case *sql.TableRef:
		return Program{Inst(PUSH, Str(e.Name))}, nil
	case *sql.BinaryOpExpr:
		lhs, err := EmitExpr(e.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := EmitExpr(e.RHS)
		if err != nil {
			return nil, err
		}
		op, err := binaryOpcode(e.Op)
		if err != nil {
			return nil, err
		}
		code := append(lhs, rhs...)
		return append(code, Inst(op)), nil
	}
	return nil, errors.Errorf("bytecode: no lowering for expression %T", expr)
}

func binaryOpcode(op string) (Opcode, error) {
	switch op {
	case "+":
		return ADD, nil
	case "-":
		return SUB, nil
	case "*":
		return MUL, nil
	case "/":
		return DIV, nil
	case "%":
		return MOD, nil
	case "=", "==":
		return EQ, nil
	case "!=":
		return NE, nil
	case "<":
		return LT, nil
	case "<=":
		return LE, nil
	case ">":
		return GT, nil
	case ">=":
		return GE, nil
	case "AND":
		return AND, nil
	case "OR":
		return OR, nil
	}
	return NOP, errors.Errorf("bytecode: unsupported binary operator %q", op)
}
