package sql

import (
	"github.com/bumbelbee777/astraldb/internal/engine"
)

// Parser turns a token stream into statements. It is recursive descent over
// statements with precedence climbing over expressions, and recovers to the
// next statement keyword after a failure.
type Parser struct {
	source string
	tokens []Token
	pos    int
	errs   []*ParseError
}

// NewParser tokenizes source. A tokenizer failure is recorded like any parse
// error; the tokens before the failure remain parseable.
func NewParser(source string) *Parser {
	p := &Parser{source: source}
	tokens, err := Tokenize(source)
	p.tokens = tokens
	if err != nil {
		p.errs = append(p.errs, err)
	}
	return p
}

// Parse parses every statement in the source. Parsing continues past
// failures; the collected errors are returned beside the statements.
func Parse(source string) ([]Statement, []*ParseError) {
	p := NewParser(source)
	stmts := p.ParseAll()
	return stmts, p.Errors()
}

// Errors returns the parse errors collected so far.
func (p *Parser) Errors() []*ParseError { return p.errs }

// Tokens exposes the token stream (used by diagnostics).
func (p *Parser) Tokens() []Token { return p.tokens }

// ParseAll consumes the whole token stream.
func (p *Parser) ParseAll() []Statement {
	var stmts []Statement
	for !p.eof() {
		if p.cur().Value == ";" {
			p.advance()
			continue
		}
		stmt, err := p.parseStatement()
		if err != nil {
			p.errs = append(p.errs, err)
			p.recover()
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

func (p *Parser) eof() bool { return p.pos >= len(p.tokens) }

func (p *Parser) cur() Token {
	if p.eof() {
		return Token{Pos: len(p.source)}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() { p.pos++ }

// matchValue consumes the current token when its uppercased text equals
// want.
func (p *Parser) matchValue(want string) bool {
	if !p.eof() && p.cur().Upper() == want {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(want string) *ParseError {
	if p.matchValue(want) {
		return nil
	}
	return parseErrorf(ErrMissingKeyword, p.cur().Pos, "expected %s, found %q", want, p.cur().Value)
}

func (p *Parser) expectValue(want string) *ParseError {
	if p.matchValue(want) {
		return nil
	}
	return parseErrorf(ErrUnexpectedToken, p.cur().Pos, "expected %q, found %q", want, p.cur().Value)
}

// name consumes an identifier-like token and returns its text.
func (p *Parser) name(what string) (string, *ParseError) {
	if p.eof() {
		return "", parseErrorf(ErrUnexpectedToken, p.cur().Pos, "expected %s, found end of input", what)
	}
	tok := p.cur()
	if tok.Type != TokenIdentifier && tok.Type != TokenKeyword && tok.Type != TokenLiteral {
		return "", parseErrorf(ErrUnexpectedToken, tok.Pos, "expected %s, found %q", what, tok.Value)
	}
	p.advance()
	return tok.Value, nil
}

// statementStarters are the keywords recovery skips to.
var statementStarters = map[string]struct{}{
	"CREATE": {}, "SELECT": {}, "INSERT": {}, "UPDATE": {}, "DELETE": {},
	"GRANT": {}, "REVOKE": {},
}

// recover advances past the failed region to the start of the next
// recognizable statement.
func (p *Parser) recover() {
	p.advance()
	for !p.eof() {
		if _, ok := statementStarters[p.cur().Upper()]; ok {
			return
		}
		p.advance()
	}
}

func (p *Parser) parseStatement() (Statement, *ParseError) {
	switch p.cur().Upper() {
	case "CREATE":
		return p.parseCreate()
	case "SELECT":
		return p.parseSelect()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "GRANT":
		return p.parseGrant()
	case "REVOKE":
		return p.parseRevoke()
	}
	return nil, parseErrorf(ErrUnexpectedToken, p.cur().Pos, "unrecognized statement %q", p.cur().Value)
}

func (p *Parser) parseCreate() (Statement, *ParseError) {
	p.advance() // CREATE
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.name("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectValue("("); err != nil {
		return nil, err
	}

	var cols []ColumnDef
	seen := map[string]struct{}{}
	for {
		if p.eof() {
			return nil, parseErrorf(ErrUnexpectedToken, p.cur().Pos, "unclosed column list")
		}
		if p.matchValue(")") {
			break
		}
		colName, err := p.name("column name")
		if err != nil {
			return nil, err
		}
		if _, dup := seen[colName]; dup {
			return nil, parseErrorf(ErrDuplicateColumn, p.cur().Pos, "column %q defined twice", colName)
		}
		seen[colName] = struct{}{}
		colType, err := p.name("column type")
		if err != nil {
			return nil, err
		}
		var constraintList []string
		for !p.eof() && isConstraint(p.cur().Value) {
			constraintList = append(constraintList, p.cur().Upper())
			p.advance()
		}
		cols = append(cols, ColumnDef{Name: colName, Type: colType, Constraints: constraintList})

		if p.matchValue(",") {
			continue
		}
		if p.matchValue(")") {
			break
		}
		return nil, parseErrorf(ErrUnexpectedToken, p.cur().Pos, "expected ',' or ')' in column list, found %q", p.cur().Value)
	}
	return &CreateTableStmt{TableName: table, Columns: cols}, nil
}

func (p *Parser) parseSelect() (Statement, *ParseError) {
	p.advance() // SELECT
	var cols []string
	for !p.eof() && p.cur().Upper() != "FROM" {
		if p.matchValue(",") {
			continue
		}
		if p.matchValue("*") {
			cols = append(cols, "*")
			continue
		}
		col, err := p.name("column")
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.name("table name")
	if err != nil {
		return nil, err
	}
	return &SelectStmt{Columns: cols, Table: &TableRef{Name: table}}, nil
}

func (p *Parser) parseInsert() (Statement, *ParseError) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.name("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectValue("("); err != nil {
		return nil, err
	}
	var cols []string
	for !p.eof() && !p.matchValue(")") {
		if p.matchValue(",") {
			continue
		}
		col, err := p.name("column")
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectValue("("); err != nil {
		return nil, err
	}
	var values []string
	for !p.eof() && !p.matchValue(")") {
		if p.matchValue(",") {
			continue
		}
		value, err := p.name("value")
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return &InsertStmt{Table: &TableRef{Name: table}, Columns: cols, Values: values}, nil
}

func (p *Parser) parseUpdate() (Statement, *ParseError) {
	p.advance() // UPDATE
	table, err := p.name("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var assigns []Assignment
	for !p.eof() && p.cur().Upper() != "WHERE" {
		col, err := p.name("column")
		if err != nil {
			return nil, err
		}
		if err := p.expectValue("="); err != nil {
			return nil, err
		}
		value, err := p.name("value")
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: col, Value: value})
		if !p.matchValue(",") {
			break
		}
	}
	if len(assigns) == 0 {
		return nil, parseErrorf(ErrUnexpectedToken, p.cur().Pos, "UPDATE without assignments")
	}
	where, perr := p.parseOptionalWhere()
	if perr != nil {
		return nil, perr
	}
	return &UpdateStmt{TableName: table, Assignments: assigns, Where: where}, nil
}

func (p *Parser) parseDelete() (Statement, *ParseError) {
	p.advance() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.name("table name")
	if err != nil {
		return nil, err
	}
	where, perr := p.parseOptionalWhere()
	if perr != nil {
		return nil, perr
	}
	return &DeleteStmt{TableName: table, Where: where}, nil
}

// parsePermissions reads a comma-separated permission keyword list.
func (p *Parser) parsePermissions() (engine.Permissions, *ParseError) {
	var perms engine.Permissions
	for {
		tok := p.cur()
		bit, ok := engine.ParsePermission(tok.Value)
		if !ok {
			return 0, parseErrorf(ErrUnexpectedToken, tok.Pos, "unknown permission %q", tok.Value)
		}
		perms |= bit
		p.advance()
		if !p.matchValue(",") {
			return perms, nil
		}
	}
}

func (p *Parser) parseGrant() (Statement, *ParseError) {
	p.advance() // GRANT
	perms, err := p.parsePermissions()
	if err != nil {
		return nil, err
	}
	var table string
	if p.matchValue("ON") {
		if table, err = p.name("table name"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	user, err := p.name("user name")
	if err != nil {
		return nil, err
	}
	return &GrantStmt{User: user, Perms: perms, TableName: table}, nil
}

func (p *Parser) parseRevoke() (Statement, *ParseError) {
	p.advance() // REVOKE
	perms, err := p.parsePermissions()
	if err != nil {
		return nil, err
	}
	var table string
	if p.matchValue("ON") {
		if table, err = p.name("table name"); err != nil {
			return nil, err
		}
	}
	// REVOKE ... FROM user; TO is tolerated for symmetry with GRANT.
	if !p.matchValue("FROM") && !p.matchValue("TO") {
		return nil, parseErrorf(ErrMissingKeyword, p.cur().Pos, "expected FROM, found %q", p.cur().Value)
	}
	user, err := p.name("user name")
	if err != nil {
		return nil, err
	}
	return &RevokeStmt{User: user, Perms: perms, TableName: table}, nil
}

func (p *Parser) parseOptionalWhere() (Expr, *ParseError) {
	if !p.matchValue("WHERE") {
		return nil, nil
	}
	return p.parseExpression()
}

func (p *Parser) parseExpression() (Expr, *ParseError) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parseBinary(0, lhs)
}

func (p *Parser) parsePrimary() (Expr, *ParseError) {
	if p.eof() {
		return nil, parseErrorf(ErrUnexpectedToken, p.cur().Pos, "expected expression, found end of input")
	}
	if p.matchValue("(") {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if perr := p.expectValue(")"); perr != nil {
			return nil, perr
		}
		return expr, nil
	}
	tok := p.cur()
	p.advance()
	return &LiteralExpr{Value: tok.Value}, nil
}

// parseBinary is precedence climbing: fold operators at or above minPrec,
// letting tighter-binding operators claim the right operand first.
func (p *Parser) parseBinary(minPrec int, lhs Expr) (Expr, *ParseError) {
	for !p.eof() {
		prec := precedence(p.cur())
		if prec < minPrec {
			break
		}
		op := p.cur().Upper()
		p.advance()
		rhs, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		for !p.eof() {
			next := precedence(p.cur())
			if next <= prec {
				break
			}
			if rhs, err = p.parseBinary(prec+1, rhs); err != nil {
				return nil, err
			}
		}
		lhs = &BinaryOpExpr{Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}
