package evelin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func emitOK(t *testing.T, src string) *Module {
	t.Helper()
	prog, errs := parseSrc(t, src)
	require.Empty(t, errs)
	fns, structs, passErrs := RunPasses(prog.Functions, prog.Structs)
	require.Empty(t, passErrs)
	typeErrs := NewTypeChecker(fns, structs).Check(fns)
	require.Empty(t, typeErrs)
	mod, err := NewEmitter(fns, structs).Emit(fns)
	require.NoError(t, err)
	return mod
}

func TestEmitterEveryFunctionLastBlockJumps(t *testing.T) {
	mod := emitOK(t, `fn main() -> int { return 0; }`)
	for _, fn := range mod.Functions {
		require.True(t, fn.lastBlock().jumps(), "function %s's last block must jump", fn.Name)
	}
}

func TestEmitterFunctionWithoutExplicitReturnGetsBareRet(t *testing.T) {
	mod := emitOK(t, `fn main() -> void { print 1; }`)
	last := mod.Functions[0].lastBlock()
	require.True(t, last.jumps())
	require.False(t, last.Instrs[len(last.Instrs)-1].HasRetVal)
}

func TestEmitterLoopBreakJumpsToEndLabel(t *testing.T) {
	mod := emitOK(t, `fn main() -> int { loop { break; } return 0; }`)
	ir := mod.String()
	require.Regexp(t, `@loop\.\d+\.start`, ir)
	require.Regexp(t, `@loop\.\d+\.end`, ir)
	require.Regexp(t, `jmp @loop\.\d+\.end`, ir)
}

func TestEmitterBreakOutsideLoopIsFatal(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { break; return 0; }`)
	require.Empty(t, errs)
	fns, structs, passErrs := RunPasses(prog.Functions, prog.Structs)
	require.Empty(t, passErrs)
	typeErrs := NewTypeChecker(fns, structs).Check(fns)
	require.Empty(t, typeErrs)
	_, err := NewEmitter(fns, structs).Emit(fns)
	require.Error(t, err)
}

func TestEmitterRejectsNestedAggregateField(t *testing.T) {
	prog, errs := parseSrc(t, `struct Inner { x: int }
		struct Outer { inner: Inner }
		fn main() -> int { let o = Outer { inner: 1 }; return 0; }`)
	require.Empty(t, errs)
	fns, structs, passErrs := RunPasses(prog.Functions, prog.Structs)
	require.Empty(t, passErrs)
	// Field type checking would normally reject `inner: 1` (Int vs Derived),
	// but StructInitStmt field values are only int-typed in this test;
	// construct the Outer-carrying-Inner case directly to exercise the
	// emitter's own nested-aggregate guard regardless of the type pass.
	_ = fns
	var outerDecl StructDecl
	for _, s := range structs {
		if s.Name == "Outer" {
			outerDecl = s
		}
	}
	require.Equal(t, "inner", outerDecl.Fields[0].Name)
	require.True(t, outerDecl.Fields[0].Type.IsDerived)

	e := NewEmitter(nil, structs)
	e.pushScope()
	defer e.popScope()
	fn := NewFunction(PublicLinkage(), "main", nil, nil)
	fn.AddBlock("start")
	st := &StructInitStmt{
		Name:       "o",
		StructName: "Outer",
		Fields:     []StructInitField{{Name: "inner", Expr: &LiteralExpr{Value: Literal{Kind: LitInt, I: 1}}}},
	}
	err := e.emitStructInit(fn, st)
	require.Error(t, err)
}

func TestEmitterRedeclaredVariableIsFatal(t *testing.T) {
	prog, errs := parseSrc(t, `fn main() -> int { let x = 1; let x = 2; return 0; }`)
	require.Empty(t, errs)
	fns, structs, passErrs := RunPasses(prog.Functions, prog.Structs)
	require.Empty(t, passErrs)
	typeErrs := NewTypeChecker(fns, structs).Check(fns)
	require.Empty(t, typeErrs)
	_, err := NewEmitter(fns, structs).Emit(fns)
	require.Error(t, err)
}

func TestEmitterStructLayoutPublishedAsTypeDef(t *testing.T) {
	mod := emitOK(t, `struct Pair { a: int, b: float }
		fn main() -> int { let p = Pair { a: 1, b: 2.0 }; return 0; }`)
	require.Len(t, mod.TypeDefs, 1)
	require.Equal(t, "Pair", mod.TypeDefs[0].Name)
	require.Equal(t, uint64(8), mod.TypeDefs[0].Alignment)
}

func TestEmitterUnaryMinusLowersToSubFromZero(t *testing.T) {
	mod := emitOK(t, `fn main() -> int { let x = -5; return x; }`)
	require.Contains(t, mod.String(), "sub 0, %")
}

func TestEmitterStructInitAllocAtLong(t *testing.T) {
	mod := emitOK(t, `struct P { x: int, y: int }
		fn main() -> int { let p = P { x: 1, y: 2 }; return 0; }`)
	require.Contains(t, mod.String(), "=l alloc8 8")
}

func TestEmitterFormatGlobalsArePreseeded(t *testing.T) {
	mod := emitOK(t, `fn main() -> int { return 0; }`)
	var names []string
	for _, d := range mod.DataDefs {
		names = append(names, d.Name)
	}
	require.Contains(t, names, "___FMT_WORD")
	require.Contains(t, names, "___FMT_LONG")
	require.Contains(t, names, "___FMT_SINGLE")
	require.Contains(t, names, "___FMT_DOUBLE")
}
