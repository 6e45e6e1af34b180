// Package vm executes AstralDB bytecode: a stack machine over tagged 64-bit
// cells with sixteen general registers, bridging DML opcodes into the
// storage engine.
package vm

import (
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bumbelbee777/astraldb/internal/engine"
	"github.com/bumbelbee777/astraldb/internal/sql/bytecode"
)

const numRegisters = 16

// flagWhere is set in the flag word when a WHERE marker has been seen.
const flagWhere uint64 = 1

// ResultSink receives SELECT results. Rows arrive already projected onto
// columns, with schema defaults substituted for absent cells.
type ResultSink func(table string, columns []string, rows [][]string)

// VM is the bytecode interpreter. It is not safe for concurrent use; the
// engine it drives does its own locking.
type VM struct {
	eng   *engine.Engine
	stack []bytecode.Value
	regs  [numRegisters]bytecode.Value
	flags uint64
	ic    int

	sink ResultSink
	out  io.Writer
	log  *log.Logger
}

// Option mutates a VM at construction.
type Option func(*VM)

// WithOutput redirects the default result rendering.
func WithOutput(w io.Writer) Option {
	return func(m *VM) { m.out = w }
}

// WithSink replaces result rendering entirely; SELECT rows flow to the sink
// instead of the output writer.
func WithSink(s ResultSink) Option {
	return func(m *VM) { m.sink = s }
}

// WithLogger sets the VM's logger.
func WithLogger(l *log.Logger) Option {
	return func(m *VM) { m.log = l }
}

// New builds a VM over the given engine.
func New(eng *engine.Engine, opts ...Option) *VM {
	m := &VM{eng: eng, out: os.Stdout, log: log.StandardLogger()}
	for _, o := range opts {
		o(m)
	}
	if m.sink == nil {
		m.sink = m.renderTable
	}
	return m
}

// renderTable is the default sink: an aligned table on the VM's output.
func (m *VM) renderTable(table string, columns []string, rows [][]string) {
	w := tablewriter.NewWriter(m.out)
	w.SetHeader(columns)
	for _, row := range rows {
		w.Append(row)
	}
	w.Render()
}

// Reset clears all machine state.
func (m *VM) Reset() {
	m.stack = m.stack[:0]
	m.regs = [numRegisters]bytecode.Value{}
	m.flags = 0
	m.ic = 0
}

// StackTop returns the top cell without popping it.
func (m *VM) StackTop() (bytecode.Value, bool) {
	if len(m.stack) == 0 {
		return bytecode.Value{}, false
	}
	return m.stack[len(m.stack)-1], true
}

// Flags returns the flag word.
func (m *VM) Flags() uint64 { return m.flags }

// Register returns register r.
func (m *VM) Register(r int) bytecode.Value { return m.regs[r] }

// Execute runs the program from instruction zero until HALT, the end of the
// program, or a failure. On failure the machine resets to its initial state
// and the structured error is returned.
func (m *VM) Execute(code bytecode.Program) error {
	m.Reset()
	for m.ic < len(code) {
		halt, err := m.step(code)
		if err != nil {
			m.Reset()
			return err
		}
		if halt {
			break
		}
	}
	return nil
}

func (m *VM) push(v bytecode.Value) { m.stack = append(m.stack, v) }

func (m *VM) pop() (bytecode.Value, *Error) {
	if len(m.stack) == 0 {
		return bytecode.Value{}, vmErrorf(StackUnderflow, m.ic, "pop on empty stack")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *VM) step(code bytecode.Program) (bool, error) {
	inst := code[m.ic]
	switch inst.Op {
	case bytecode.NOP:
		m.ic++

	case bytecode.HALT:
		return true, nil

	case bytecode.PUSH:
		if len(inst.Operands) == 0 {
			return false, vmErrorf(BadOperandType, m.ic, "PUSH requires an operand")
		}
		m.push(inst.Operands[0])
		m.ic++

	case bytecode.POP:
		// Discard; popping an empty stack is a no-op.
		if len(m.stack) > 0 {
			m.stack = m.stack[:len(m.stack)-1]
		}
		m.ic++

	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV, bytecode.MOD:
		if err := m.arith(inst.Op); err != nil {
			return false, err
		}
		m.ic++

	case bytecode.EQ, bytecode.NE, bytecode.LT, bytecode.LE, bytecode.GT, bytecode.GE:
		if err := m.compare(inst.Op); err != nil {
			return false, err
		}
		m.ic++

	case bytecode.AND, bytecode.OR:
		b, err := m.pop()
		if err != nil {
			return false, err
		}
		a, err := m.pop()
		if err != nil {
			return false, err
		}
		av, bv := truthy(a), truthy(b)
		var r bool
		if inst.Op == bytecode.AND {
			r = av && bv
		} else {
			r = av || bv
		}
		m.push(boolValue(r))
		m.ic++

	case bytecode.NOT:
		a, err := m.pop()
		if err != nil {
			return false, err
		}
		m.push(boolValue(!truthy(a)))
		m.ic++

	case bytecode.JMP:
		target, err := m.jumpTarget(inst, len(code))
		if err != nil {
			return false, err
		}
		m.ic = target

	case bytecode.CALL:
		target, err := m.jumpTarget(inst, len(code))
		if err != nil {
			return false, err
		}
		m.push(bytecode.Int64(int64(m.ic + 1)))
		m.ic = target

	case bytecode.RET:
		v, err := m.pop()
		if err != nil {
			return false, err
		}
		if v.Kind != bytecode.KindInt {
			return false, vmErrorf(BadOperandType, m.ic, "RET expects an integer return address")
		}
		if v.Int < 0 || v.Int > int64(len(code)) {
			return false, vmErrorf(JumpOutOfRange, m.ic, "return address %d outside program", v.Int)
		}
		m.ic = int(v.Int)

	case bytecode.LOAD:
		r, err := m.registerIndex(inst)
		if err != nil {
			return false, err
		}
		m.push(m.regs[r])
		m.ic++

	case bytecode.STORE:
		r, err := m.registerIndex(inst)
		if err != nil {
			return false, err
		}
		v, perr := m.pop()
		if perr != nil {
			return false, perr
		}
		m.regs[r] = v
		m.ic++

	case bytecode.SET, bytecode.ORDER_BY, bytecode.GROUP_BY, bytecode.LIMIT, bytecode.OFFSET:
		// Query context: the operands ride on the stack until a consumer
		// reduces them.
		m.stack = append(m.stack, inst.Operands...)
		m.ic++

	case bytecode.WHERE:
		m.flags |= flagWhere
		m.ic++

	case bytecode.CREATE_TABLE:
		if err := m.execCreateTable(code, inst); err != nil {
			return false, err
		}

	case bytecode.DROP_TABLE:
		name, err := m.stringOperand(inst, 0, "DROP_TABLE")
		if err != nil {
			return false, err
		}
		m.eng.DropTable(name)
		m.ic++

	case bytecode.INSERT:
		if err := m.execInsert(inst); err != nil {
			return false, err
		}
		m.ic++

	case bytecode.DELETE:
		if err := m.execDelete(code, inst); err != nil {
			return false, err
		}

	case bytecode.UPDATE:
		if err := m.execUpdate(code); err != nil {
			return false, err
		}

	case bytecode.SELECT:
		if err := m.execSelect(inst); err != nil {
			return false, err
		}
		m.ic++

	case bytecode.GRANT, bytecode.REVOKE:
		if err := m.execGrantRevoke(inst); err != nil {
			return false, err
		}
		m.ic++

	default:
		return false, vmErrorf(UnknownOpcode, m.ic, "opcode %d", uint8(inst.Op))
	}
	return false, nil
}

func (m *VM) jumpTarget(inst bytecode.Instruction, size int) (int, *Error) {
	if len(inst.Operands) == 0 || inst.Operands[0].Kind != bytecode.KindInt {
		return 0, vmErrorf(BadOperandType, m.ic, "%s expects an integer target", inst.Op)
	}
	t := inst.Operands[0].Int
	if t < 0 || t >= int64(size) {
		return 0, vmErrorf(JumpOutOfRange, m.ic, "target %d outside program of %d instructions", t, size)
	}
	return int(t), nil
}

func (m *VM) registerIndex(inst bytecode.Instruction) (int, *Error) {
	if len(inst.Operands) == 0 || inst.Operands[0].Kind != bytecode.KindInt {
		return 0, vmErrorf(BadOperandType, m.ic, "%s expects a register index", inst.Op)
	}
	r := inst.Operands[0].Int
	if r < 0 || r >= numRegisters {
		return 0, vmErrorf(BadOperandType, m.ic, "register %d out of range", r)
	}
	return int(r), nil
}

func (m *VM) stringOperand(inst bytecode.Instruction, i int, what string) (string, *Error) {
	if len(inst.Operands) <= i || inst.Operands[i].Kind != bytecode.KindString {
		return "", vmErrorf(BadOperandType, m.ic, "%s expects a string operand %d", what, i)
	}
	return inst.Operands[i].Str, nil
}

func (m *VM) arith(op bytecode.Opcode) *Error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	if a.Kind == bytecode.KindString || b.Kind == bytecode.KindString {
		return vmErrorf(BadOperandType, m.ic, "%s on string operand", op)
	}
	if a.Kind == bytecode.KindFloat || b.Kind == bytecode.KindFloat {
		af, bf := asFloat(a), asFloat(b)
		switch op {
		case bytecode.ADD:
			m.push(bytecode.Float64(af + bf))
		case bytecode.SUB:
			m.push(bytecode.Float64(af - bf))
		case bytecode.MUL:
			m.push(bytecode.Float64(af * bf))
		case bytecode.DIV:
			if bf == 0 {
				return vmErrorf(DivByZero, m.ic, "float division by zero")
			}
			m.push(bytecode.Float64(af / bf))
		case bytecode.MOD:
			return vmErrorf(BadOperandType, m.ic, "MOD on float operand")
		}
		return nil
	}
	switch op {
	case bytecode.ADD:
		m.push(bytecode.Int64(a.Int + b.Int))
	case bytecode.SUB:
		m.push(bytecode.Int64(a.Int - b.Int))
	case bytecode.MUL:
		m.push(bytecode.Int64(a.Int * b.Int))
	case bytecode.DIV:
		if b.Int == 0 {
			return vmErrorf(DivByZero, m.ic, "division by zero")
		}
		m.push(bytecode.Int64(a.Int / b.Int))
	case bytecode.MOD:
		if b.Int == 0 {
			return vmErrorf(DivByZero, m.ic, "modulo by zero")
		}
		m.push(bytecode.Int64(a.Int % b.Int))
	}
	return nil
}

func (m *VM) compare(op bytecode.Opcode) *Error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	c := compareValues(a, b)
	var r bool
	switch op {
	case bytecode.EQ:
		r = c == 0
	case bytecode.NE:
		r = c != 0
	case bytecode.LT:
		r = c < 0
	case bytecode.LE:
		r = c <= 0
	case bytecode.GT:
		r = c > 0
	case bytecode.GE:
		r = c >= 0
	}
	m.push(boolValue(r))
	return nil
}

func boolValue(b bool) bytecode.Value {
	if b {
		return bytecode.Int64(1)
	}
	return bytecode.Int64(0)
}

func truthy(v bytecode.Value) bool {
	switch v.Kind {
	case bytecode.KindInt:
		return v.Int != 0
	case bytecode.KindFloat:
		return v.Float != 0
	default:
		return v.Str != ""
	}
}

func asFloat(v bytecode.Value) float64 {
	if v.Kind == bytecode.KindFloat {
		return v.Float
	}
	return float64(v.Int)
}

// numeric tries to view a value as a float: numbers directly, strings when
// they parse as one.
func numeric(v bytecode.Value) (float64, bool) {
	switch v.Kind {
	case bytecode.KindInt:
		return float64(v.Int), true
	case bytecode.KindFloat:
		return v.Float, true
	default:
		f, err := strconv.ParseFloat(v.Str, 64)
		return f, err == nil
	}
}

// compareValues orders two cells: numerically when both sides are numbers
// (or numeric strings), else by string form.
func compareValues(a, b bytecode.Value) int {
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func (m *VM) engineErr(err error) error {
	return errors.Wrap(err, "vm: storage operation failed")
}
