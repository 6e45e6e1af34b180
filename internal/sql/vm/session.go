package vm

import (
	stderrors "errors"

	"github.com/bumbelbee777/astraldb/internal/sql"
	"github.com/bumbelbee777/astraldb/internal/sql/bytecode"
)

// RunSQL drives source through parse, codegen, and execution, one statement
// program at a time. Statements after a recovered parse error still run;
// the first execution failure stops the remainder. All collected errors are
// joined into the return value.
func (m *VM) RunSQL(source string) error {
	stmts, parseErrs := sql.Parse(source)
	m.log.WithField("statements", len(stmts)).Debug("executing sql")

	var errs []error
	for _, perr := range parseErrs {
		errs = append(errs, perr)
	}
	for _, stmt := range stmts {
		code, err := bytecode.Emit(stmt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.Execute(code); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return stderrors.Join(errs...)
}
