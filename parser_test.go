package evelin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func parseSrc(t *testing.T, src string) (*Program, []error) {
	t.Helper()
	toks, errs := NewLexer(src).Scan()
	require.Empty(t, errs)
	return NewParser(toks).ParseProgram()
}

func TestParserFnDeclWithParameterAndReturn(t *testing.T) {
	prog, errs := parseSrc(t, `fn add(x: int) -> int { return x; }`)
	require.Empty(t, errs)
	require.Len(t, prog.Functions, 1)
	fn := prog.Functions[0]
	require.Equal(t, "add", fn.Name)
	require.NotNil(t, fn.Parameter)
	require.Equal(t, "x", fn.Parameter.Name)
	require.Equal(t, Primitive(TInt), fn.Parameter.Type)
	require.Equal(t, Primitive(TInt), fn.ReturnType)
	require.Len(t, fn.Body, 1)
	ret, ok := fn.Body[0].(*ReturnStmt)
	require.True(t, ok)
	v, ok := ret.Expr.(*VariableExpr)
	require.True(t, ok)
	require.Equal(t, "x", v.Name)
}

func TestParserStructDecl(t *testing.T) {
	prog, errs := parseSrc(t, `struct P { x: int, y: int }`)
	require.Empty(t, errs)
	require.Len(t, prog.Structs, 1)
	s := prog.Structs[0]
	require.Equal(t, "P", s.Name)
	require.Len(t, s.Fields, 2)
	require.Equal(t, "x", s.Fields[0].Name)
	require.Equal(t, "y", s.Fields[1].Name)
}

func TestParserStructDeclTrailingComma(t *testing.T) {
	_, errs := parseSrc(t, `struct P { x: int, }`)
	require.Empty(t, errs)
}

func TestParserDerivedFieldType(t *testing.T) {
	prog, errs := parseSrc(t, `struct Box { inner: Thing }`)
	require.Empty(t, errs)
	require.Equal(t, MakeDerived("Thing"), prog.Structs[0].Fields[0].Type)
}

func TestParserLetStructInit(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { let p = P { x: 1, y: 2 }; return 0; }`)
	require.Empty(t, errs)
	si, ok := prog.Functions[0].Body[0].(*StructInitStmt)
	require.True(t, ok)
	require.Equal(t, "p", si.Name)
	require.Equal(t, "P", si.StructName)
	require.Len(t, si.Fields, 2)
}

func TestParserPlainLet(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { let x = 1 + 2; return 0; }`)
	require.Empty(t, errs)
	let, ok := prog.Functions[0].Body[0].(*LetStmt)
	require.True(t, ok)
	require.Equal(t, "x", let.Name)
	_, ok = let.Init.(*BinaryExpr)
	require.True(t, ok)
}

func TestParserIfElse(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { if (1) { print 1; } else { print 2; } return 0; }`)
	require.Empty(t, errs)
	ifs, ok := prog.Functions[0].Body[0].(*IfStmt)
	require.True(t, ok)
	require.NotNil(t, ifs.Else)
}

func TestParserIfWithoutElse(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { if (1) { print 1; } return 0; }`)
	require.Empty(t, errs)
	ifs, ok := prog.Functions[0].Body[0].(*IfStmt)
	require.True(t, ok)
	require.Nil(t, ifs.Else)
}

func TestParserLoopAndBreak(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { loop { break; } return 0; }`)
	require.Empty(t, errs)
	loop, ok := prog.Functions[0].Body[0].(*LoopStmt)
	require.True(t, ok)
	block, ok := loop.Body.(*BlockStmt)
	require.True(t, ok)
	_, ok = block.Stmts[0].(*BreakStmt)
	require.True(t, ok)
}

func TestParserAssignmentIsRightAssociative(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { let a = 1; let b = 1; a = b = 2; return 0; }`)
	require.Empty(t, errs)
	es, ok := prog.Functions[0].Body[2].(*ExprStmt)
	require.True(t, ok)
	outer, ok := es.Expr.(*AssignmentExpr)
	require.True(t, ok)
	require.Equal(t, "a", outer.Name)
	inner, ok := outer.Value.(*AssignmentExpr)
	require.True(t, ok)
	require.Equal(t, "b", inner.Name)
}

func TestParserIllegalAssignmentTarget(t *testing.T) {
	_, errs := parseSrc(t, `fn main() -> int { 1 = 2; return 0; }`)
	require.NotEmpty(t, errs)
	diag, ok := errs[0].(*Diagnostic)
	require.True(t, ok)
	require.Equal(t, "IllegalAssignTarget", diag.Subtype)
}

func TestParserPrecedenceClimbing(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { let x = 1 + 2 * 3; return 0; }`)
	require.Empty(t, errs)
	let := prog.Functions[0].Body[0].(*LetStmt)
	bin := let.Init.(*BinaryExpr)
	require.Equal(t, OpAdd, bin.Op)
	_, ok := bin.Left.(*LiteralExpr)
	require.True(t, ok)
	rightMul, ok := bin.Right.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, OpMul, rightMul.Op)
}

func TestParserCallWithZeroAndOneArg(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { f(); g(1); return 0; }`)
	require.Empty(t, errs)
	first := prog.Functions[0].Body[0].(*ExprStmt).Expr.(*CallExpr)
	require.Nil(t, first.Arg)
	second := prog.Functions[0].Body[1].(*ExprStmt).Expr.(*CallExpr)
	require.NotNil(t, second.Arg)
}

func TestParserNativeCallMultipleArgs(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { extern puts(1, 2, 3); return 0; }`)
	require.Empty(t, errs)
	nc := prog.Functions[0].Body[0].(*ExprStmt).Expr.(*NativeCallExpr)
	require.Len(t, nc.Args, 3)
}

func TestParserFieldAccess(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { let p = P { x: 1 }; return p.x; }`)
	require.Empty(t, errs)
	ret := prog.Functions[0].Body[1].(*ReturnStmt)
	fa, ok := ret.Expr.(*FieldAccessExpr)
	require.True(t, ok)
	require.Equal(t, "x", fa.Field)
}

func TestParserTopLevelSynchronisation(t *testing.T) {
	// "garbage" at top level should be skipped until the next struct/fn.
	prog, errs := parseSrc(t, `garbage tokens here fn main() -> int { return 0; }`)
	require.NotEmpty(t, errs)
	require.Len(t, prog.Functions, 1)
	require.Equal(t, "main", prog.Functions[0].Name)
}

func TestParserStatementSynchronisation(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { let = ; return 0; }`)
	require.NotEmpty(t, errs)
	require.Len(t, prog.Functions, 1)
	// the malformed let should be skipped, leaving the return reachable.
	var foundReturn bool
	for _, s := range prog.Functions[0].Body {
		if _, ok := s.(*ReturnStmt); ok {
			foundReturn = true
		}
	}
	require.True(t, foundReturn)
}
