package evelin

// TypeChecker performs the single-walk type inference and annotation pass:
// it decorates every expression's Metadata with a resolved DType and
// validates operand compatibility as it goes.
type TypeChecker struct {
	structs map[string]StructDecl
	fns     map[string]FnDecl
	errs    []error
}

// NewTypeChecker prepares a checker against the given declaration set.
func NewTypeChecker(fns []FnDecl, structs []StructDecl) *TypeChecker {
	tc := &TypeChecker{
		structs: make(map[string]StructDecl, len(structs)),
		fns:     make(map[string]FnDecl, len(fns)),
	}
	for _, s := range structs {
		tc.structs[s.Name] = s
	}
	for _, f := range fns {
		tc.fns[f.Name] = f
	}
	return tc
}

// Check type-annotates every function body in place and returns any type
// errors accumulated along the way. It does not stop at the first error, so
// multiple type errors can surface from a single run.
func (tc *TypeChecker) Check(fns []FnDecl) []error {
	for i := range fns {
		tc.checkFunction(&fns[i])
	}
	return tc.errs
}

func (tc *TypeChecker) checkFunction(fn *FnDecl) {
	env := make(map[string]DType)
	if fn.Parameter != nil {
		env[fn.Parameter.Name] = fn.Parameter.Type
	}
	for i := range fn.Body {
		tc.checkStmt(fn.Body[i], env, fn)
	}
}

func (tc *TypeChecker) checkStmt(s Stmt, env map[string]DType, fn *FnDecl) {
	switch st := s.(type) {
	case *BlockStmt:
		for i := range st.Stmts {
			tc.checkStmt(st.Stmts[i], env, fn)
		}
	case *LetStmt:
		t := tc.checkExpr(st.Init, env)
		env[st.Name] = t
	case *StructInitStmt:
		tc.checkStructInit(st, env)
		env[st.Name] = MakeDerived(st.StructName)
	case *IfStmt:
		tc.checkExpr(st.Cond, env)
		tc.checkStmt(st.Then, env, fn)
		if st.Else != nil {
			tc.checkStmt(st.Else, env, fn)
		}
	case *LoopStmt:
		tc.checkStmt(st.Body, env, fn)
	case *BreakStmt:
		// always well-typed
	case *PrintStmt:
		tc.checkExpr(st.Expr, env)
	case *ReturnStmt:
		var got DType = Primitive(TVoid)
		if st.Expr != nil {
			got = tc.checkExpr(st.Expr, env)
		}
		if !got.Equal(fn.ReturnType) {
			tc.errs = append(tc.errs, errReturnTypeMismatch(st.Line, fn.ReturnType, got))
		}
	case *ExprStmt:
		tc.checkExpr(st.Expr, env)
	}
}

func (tc *TypeChecker) checkStructInit(st *StructInitStmt, env map[string]DType) {
	decl, ok := tc.structs[st.StructName]
	if !ok {
		tc.errs = append(tc.errs, newDiag(SeverityError, st.Line, "NotAStruct", "struct '%s' is not declared", st.StructName))
		return
	}
	declType := make(map[string]DType, len(decl.Fields))
	for _, f := range decl.Fields {
		declType[f.Name] = f.Type
	}
	for _, sf := range st.Fields {
		got := tc.checkExpr(sf.Expr, env)
		if want, ok := declType[sf.Name]; ok && !want.Equal(got) {
			tc.errs = append(tc.errs, errWrongFieldType(st.Line, sf.Name, want, got))
		}
	}
}

func (tc *TypeChecker) checkExpr(e Expr, env map[string]DType) DType {
	var t DType
	switch ex := e.(type) {
	case *LiteralExpr:
		switch ex.Value.Kind {
		case LitInt, LitBool, LitNull:
			t = Primitive(TInt)
		case LitFloat:
			t = Primitive(TFloat)
		case LitString:
			t = Primitive(TString)
		default:
			t = Primitive(TInt)
		}
	case *VariableExpr:
		known, ok := env[ex.Name]
		if !ok {
			tc.errs = append(tc.errs, errUndefinedVariable(ex.Line, ex.Name))
			t = Primitive(TInt)
		} else {
			t = known
		}
	case *GroupingExpr:
		t = tc.checkExpr(ex.Value, env)
	case *UnaryExpr:
		t = tc.checkExpr(ex.Operand, env)
		if ex.Op == OpNot {
			tc.errs = append(tc.errs, errUnsupportedNot(ex.Line, t))
		}
	case *BinaryExpr:
		t = tc.checkBinary(ex, env)
	case *CallExpr:
		name, ok := calleeName(ex.Callee)
		if ex.Arg != nil {
			tc.checkExpr(ex.Arg, env)
		}
		if !ok {
			t = Primitive(TInt)
			break
		}
		fn, found := tc.fns[name]
		if !found {
			tc.errs = append(tc.errs, errUndefinedFunctionType(ex.Line, name))
			t = Primitive(TInt)
		} else {
			t = fn.ReturnType
		}
	case *NativeCallExpr:
		for _, a := range ex.Args {
			tc.checkExpr(a, env)
		}
		t = Primitive(TInt)
	case *FieldAccessExpr:
		t = tc.checkFieldAccess(ex, env)
	case *AssignmentExpr:
		if _, ok := env[ex.Name]; !ok {
			tc.errs = append(tc.errs, errUndefinedVariable(ex.Line, ex.Name))
		}
		t = tc.checkExpr(ex.Value, env)
	default:
		t = Primitive(TInt)
	}
	e.Meta().ResolvedType = &t
	return t
}

func calleeName(e Expr) (string, bool) {
	if v, ok := e.(*VariableExpr); ok {
		return v.Name, true
	}
	return "", false
}

func (tc *TypeChecker) checkBinary(ex *BinaryExpr, env map[string]DType) DType {
	l := tc.checkExpr(ex.Left, env)
	r := tc.checkExpr(ex.Right, env)

	if l.IsDerived || r.IsDerived {
		tc.errs = append(tc.errs, errIncompatibleOperands(ex.Line, ex.Op, l, r))
		return Primitive(TInt)
	}
	if l.Prim == TString || r.Prim == TString {
		tc.errs = append(tc.errs, errIncompatibleOperands(ex.Line, ex.Op, l, r))
		return Primitive(TInt)
	}

	switch {
	case l.Prim == TFloat || r.Prim == TFloat:
		// Promote the non-Float side by rewriting its resolved type to
		// Float in place, so the emitter can detect and insert a
		// conversion.
		if l.Prim != TFloat {
			promoted := Primitive(TFloat)
			ex.Left.Meta().ResolvedType = &promoted
		}
		if r.Prim != TFloat {
			promoted := Primitive(TFloat)
			ex.Right.Meta().ResolvedType = &promoted
		}
		return Primitive(TFloat)
	default:
		return Primitive(TInt)
	}
}

func (tc *TypeChecker) checkFieldAccess(ex *FieldAccessExpr, env map[string]DType) DType {
	v, ok := ex.Parent.(*VariableExpr)
	if !ok {
		tc.errs = append(tc.errs, errNotAStruct(ex.Line, "<expr>"))
		return Primitive(TInt)
	}
	parentType, ok := env[v.Name]
	if !ok {
		tc.errs = append(tc.errs, errUndefinedVariable(ex.Line, v.Name))
		return Primitive(TInt)
	}
	if !parentType.IsDerived {
		tc.errs = append(tc.errs, errNotAStruct(ex.Line, v.Name))
		return Primitive(TInt)
	}
	decl, ok := tc.structs[parentType.Derived]
	if !ok {
		tc.errs = append(tc.errs, errNotAStruct(ex.Line, v.Name))
		return Primitive(TInt)
	}
	for _, f := range decl.Fields {
		if f.Name == ex.Field {
			return f.Type
		}
	}
	tc.errs = append(tc.errs, errNoSuchField(ex.Line, ex.Field, decl.Name))
	return Primitive(TInt)
}
