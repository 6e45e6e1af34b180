package vm

import (
	"github.com/pkg/errors"

	"github.com/bumbelbee777/astraldb/internal/engine"
	"github.com/bumbelbee777/astraldb/internal/sql/bytecode"
)

var errRowRejected = errors.New("vm: row failed constraint validation")

// execCreateTable registers the table. The column descriptors trail the
// CREATE_TABLE instruction as PUSH sequences (name, type, constraints...),
// which are consumed here instead of hitting the stack.
func (m *VM) execCreateTable(code bytecode.Program, inst bytecode.Instruction) error {
	name, err := m.stringOperand(inst, 0, "CREATE_TABLE")
	if err != nil {
		return err
	}

	var words []string
	end := m.ic + 1
	for end < len(code) && code[end].Op == bytecode.PUSH &&
		len(code[end].Operands) == 1 && code[end].Operands[0].Kind == bytecode.KindString {
		words = append(words, code[end].Operands[0].Str)
		end++
	}

	schema, perr := parseColumnWords(words)
	if perr != nil {
		return vmErrorf(BadOperandType, m.ic, "CREATE_TABLE descriptors: %v", perr)
	}
	if eerr := m.eng.CreateTable(name, schema); eerr != nil {
		return m.engineErr(eerr)
	}
	m.ic = end
	return nil
}

// parseColumnWords decodes the flattened descriptor stream: each column is a
// name, a type, then zero or more constraint keywords.
func parseColumnWords(words []string) (engine.Schema, error) {
	var schema engine.Schema
	i := 0
	for i < len(words) {
		if i+1 >= len(words) {
			return nil, errors.Errorf("column %q has no type", words[i])
		}
		col := engine.Column{Name: words[i]}
		i += 2 // name, type

		for i < len(words) {
			switch words[i] {
			case "PRIMARY":
				// PRIMARY KEY implies UNIQUE and NOT NULL.
				col.PrimaryKey = true
				col.Unique = true
				col.NotNull = true
				if i+1 < len(words) && words[i+1] == "KEY" {
					i++
				}
			case "UNIQUE":
				col.Unique = true
			case "NOT":
				if i+1 < len(words) && words[i+1] == "NULL" {
					col.NotNull = true
					i++
				}
			case "NULL", "KEY", "AUTO_INCREMENT":
				// Tolerated; no storage-level effect.
			default:
				goto nextColumn
			}
			i++
		}
	nextColumn:
		schema = append(schema, col)
	}
	return schema, nil
}

// execInsert builds the row from the instruction's column/value pairs,
// validates it against the schema constraints, and inserts.
func (m *VM) execInsert(inst bytecode.Instruction) error {
	table, err := m.stringOperand(inst, 0, "INSERT")
	if err != nil {
		return err
	}
	if len(inst.Operands) < 3 || len(inst.Operands)%2 == 0 {
		return vmErrorf(BadOperandType, m.ic, "INSERT expects column/value pairs")
	}
	row := engine.Row{}
	for i := 1; i+1 < len(inst.Operands); i += 2 {
		col := inst.Operands[i]
		val := inst.Operands[i+1]
		if col.Kind != bytecode.KindString {
			return vmErrorf(BadOperandType, m.ic, "INSERT column name must be a string")
		}
		row[col.Str] = val.String()
	}
	if !m.eng.ValidateRow(table, row) {
		if _, ok := m.eng.Schema(table); !ok {
			return m.engineErr(engine.ErrNoSuchTable)
		}
		return errRowRejected
	}
	if eerr := m.eng.Insert(table, row); eerr != nil {
		return m.engineErr(eerr)
	}
	return nil
}

// predicateRegion extracts the condition program that follows a DML
// instruction: a WHERE marker, then the expression instructions up to HALT
// or the end of the program. It returns the predicate body and the index
// execution resumes at.
func (m *VM) predicateRegion(code bytecode.Program, after int) (bytecode.Program, int) {
	if after >= len(code) || code[after].Op != bytecode.WHERE {
		return nil, after
	}
	m.flags |= flagWhere
	end := after + 1
	for end < len(code) && code[end].Op != bytecode.HALT {
		end++
	}
	return code[after+1 : end], end
}

// predicate compiles a condition region into a per-row matcher. A nil or
// empty region matches everything. Evaluation failures surface through
// *evalErr and make the row a non-match.
func (m *VM) predicate(cond bytecode.Program, evalErr *error) engine.Predicate {
	if len(cond) == 0 {
		return func(engine.Row) bool { return true }
	}
	return func(row engine.Row) bool {
		ok, err := m.evalPredicate(cond, row)
		if err != nil && *evalErr == nil {
			*evalErr = err
		}
		return ok
	}
}

// evalPredicate runs a condition program against one row on a scratch
// stack. A pushed string naming one of the row's columns resolves to that
// cell; every other operand is a literal.
func (m *VM) evalPredicate(cond bytecode.Program, row engine.Row) (bool, error) {
	var stack []bytecode.Value
	pop := func() (bytecode.Value, error) {
		if len(stack) == 0 {
			return bytecode.Value{}, vmErrorf(StackUnderflow, m.ic, "predicate pop on empty stack")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}
	binary := func(apply func(a, b bytecode.Value) (bytecode.Value, error)) error {
		b, err := pop()
		if err != nil {
			return err
		}
		a, err := pop()
		if err != nil {
			return err
		}
		v, err := apply(a, b)
		if err != nil {
			return err
		}
		stack = append(stack, v)
		return nil
	}

	for _, inst := range cond {
		switch inst.Op {
		case bytecode.PUSH:
			if len(inst.Operands) == 0 {
				return false, vmErrorf(BadOperandType, m.ic, "predicate PUSH without operand")
			}
			v := inst.Operands[0]
			if v.Kind == bytecode.KindString {
				if cell, ok := row[v.Str]; ok {
					v = bytecode.Str(cell)
				}
			}
			stack = append(stack, v)

		case bytecode.EQ, bytecode.NE, bytecode.LT, bytecode.LE, bytecode.GT, bytecode.GE:
			op := inst.Op
			if err := binary(func(a, b bytecode.Value) (bytecode.Value, error) {
				c := compareValues(a, b)
				switch op {
				case bytecode.EQ:
					return boolValue(c == 0), nil
				case bytecode.NE:
					return boolValue(c != 0), nil
				case bytecode.LT:
					return boolValue(c < 0), nil
				case bytecode.LE:
					return boolValue(c <= 0), nil
				case bytecode.GT:
					return boolValue(c > 0), nil
				default:
					return boolValue(c >= 0), nil
				}
			}); err != nil {
				return false, err
			}

		case bytecode.AND, bytecode.OR:
			op := inst.Op
			if err := binary(func(a, b bytecode.Value) (bytecode.Value, error) {
				if op == bytecode.AND {
					return boolValue(truthy(a) && truthy(b)), nil
				}
				return boolValue(truthy(a) || truthy(b)), nil
			}); err != nil {
				return false, err
			}

		case bytecode.NOT:
			a, err := pop()
			if err != nil {
				return false, err
			}
			stack = append(stack, boolValue(!truthy(a)))

		case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV, bytecode.MOD:
			op := inst.Op
			if err := binary(func(a, b bytecode.Value) (bytecode.Value, error) {
				af, aok := numeric(a)
				bf, bok := numeric(b)
				if !aok || !bok {
					return bytecode.Value{}, vmErrorf(BadOperandType, m.ic, "%s on non-numeric predicate operand", op)
				}
				switch op {
				case bytecode.ADD:
					return bytecode.Float64(af + bf), nil
				case bytecode.SUB:
					return bytecode.Float64(af - bf), nil
				case bytecode.MUL:
					return bytecode.Float64(af * bf), nil
				case bytecode.DIV:
					if bf == 0 {
						return bytecode.Value{}, vmErrorf(DivByZero, m.ic, "predicate division by zero")
					}
					return bytecode.Float64(af / bf), nil
				default:
					if int64(bf) == 0 {
						return bytecode.Value{}, vmErrorf(DivByZero, m.ic, "predicate modulo by zero")
					}
					return bytecode.Int64(int64(af) % int64(bf)), nil
				}
			}); err != nil {
				return false, err
			}

		default:
			return false, vmErrorf(UnknownOpcode, m.ic, "opcode %s in predicate", inst.Op)
		}
	}

	if len(stack) == 0 {
		return false, vmErrorf(StackUnderflow, m.ic, "predicate left no result")
	}
	return truthy(stack[len(stack)-1]), nil
}

func (m *VM) execDelete(code bytecode.Program, inst bytecode.Instruction) error {
	table, err := m.stringOperand(inst, 0, "DELETE")
	if err != nil {
		return err
	}
	cond, resume := m.predicateRegion(code, m.ic+1)

	var evalErr error
	if eerr := m.eng.Delete(table, m.predicate(cond, &evalErr)); eerr != nil {
		return m.engineErr(eerr)
	}
	if evalErr != nil {
		return evalErr
	}
	m.ic = resume
	return nil
}

// execUpdate gathers the run of UPDATE instructions (one per assignment),
// the optional predicate region, and applies them as a single engine update.
func (m *VM) execUpdate(code bytecode.Program) error {
	table, err := m.stringOperand(code[m.ic], 0, "UPDATE")
	if err != nil {
		return err
	}
	newValues := engine.Row{}
	end := m.ic
	for end < len(code) && code[end].Op == bytecode.UPDATE {
		inst := code[end]
		if len(inst.Operands) < 3 {
			return vmErrorf(BadOperandType, m.ic, "UPDATE expects table, column, and value")
		}
		tbl, perr := m.stringOperand(inst, 0, "UPDATE")
		if perr != nil {
			return perr
		}
		if tbl != table {
			break
		}
		col, perr := m.stringOperand(inst, 1, "UPDATE")
		if perr != nil {
			return perr
		}
		newValues[col] = inst.Operands[2].String()
		end++
	}
	cond, resume := m.predicateRegion(code, end)

	var evalErr error
	if eerr := m.eng.Update(table, m.predicate(cond, &evalErr), newValues); eerr != nil {
		return m.engineErr(eerr)
	}
	if evalErr != nil {
		return evalErr
	}
	m.ic = resume
	return nil
}

// execSelect pops the projection column names pushed ahead of the SELECT,
// scans the table, and feeds the projected rows to the result sink.
func (m *VM) execSelect(inst bytecode.Instruction) error {
	table, err := m.stringOperand(inst, 0, "SELECT")
	if err != nil {
		return err
	}

	var columns []string
	for len(m.stack) > 0 && m.stack[len(m.stack)-1].Kind == bytecode.KindString {
		columns = append(columns, m.stack[len(m.stack)-1].Str)
		m.stack = m.stack[:len(m.stack)-1]
	}
	// Pushed left to right, popped right to left.
	for i, j := 0, len(columns)-1; i < j; i, j = i+1, j-1 {
		columns[i], columns[j] = columns[j], columns[i]
	}

	rows, eerr := m.eng.Select(table, func(engine.Row) bool { return true })
	if eerr != nil {
		return m.engineErr(eerr)
	}

	schema, _ := m.eng.Schema(table)
	if len(columns) == 0 || (len(columns) == 1 && columns[0] == "*") {
		columns = columns[:0]
		for _, col := range schema {
			columns = append(columns, col.Name)
		}
	}

	defaults := make(map[string]string, len(schema))
	for _, col := range schema {
		defaults[col.Name] = col.Default
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		projected := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col]; ok {
				projected[i] = v
			} else {
				projected[i] = defaults[col]
			}
		}
		out = append(out, projected)
	}
	m.sink(table, columns, out)
	return nil
}

func (m *VM) execGrantRevoke(inst bytecode.Instruction) error {
	user, err := m.stringOperand(inst, 0, inst.Op.String())
	if err != nil {
		return err
	}
	if len(inst.Operands) < 2 || inst.Operands[1].Kind != bytecode.KindInt {
		return vmErrorf(BadOperandType, m.ic, "%s expects an integer permission bitset", inst.Op)
	}
	perms := engine.Permissions(inst.Operands[1].Int)
	var table string
	if len(inst.Operands) > 2 && inst.Operands[2].Kind == bytecode.KindString {
		table = inst.Operands[2].Str
	}
	if inst.Op == bytecode.GRANT {
		m.eng.Grant(user, perms, table)
	} else {
		m.eng.Revoke(user, perms, table)
	}
	return nil
}
