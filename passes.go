package evelin

// Pass is the uniform shape every semantic pass implements: consume the
// full declaration set, return it (possibly pruned) together with any
// diagnostics collected along the way. A read-only pass just returns its
// inputs unchanged.
type Pass func(fns []FnDecl, structs []StructDecl) ([]FnDecl, []StructDecl, []error)

// RunPasses runs the five semantic passes in a fixed order, returning the
// combined diagnostics from every pass (errors from one pass do not prevent
// later passes from also running).
func RunPasses(fns []FnDecl, structs []StructDecl) ([]FnDecl, []StructDecl, []error) {
	var all []error
	passes := []Pass{
		mainExistsPass,
		allFnExistPass,
		structInitUniqueFieldsPass,
		structInitFieldMatchPass,
		deadCodeAfterReturnPass,
	}
	for _, p := range passes {
		var errs []error
		fns, structs, errs = p(fns, structs)
		all = append(all, errs...)
	}
	return fns, structs, all
}

// mainExistsPass requires a function named main to be declared.
func mainExistsPass(fns []FnDecl, structs []StructDecl) ([]FnDecl, []StructDecl, []error) {
	for _, f := range fns {
		if f.Name == "main" {
			return fns, structs, nil
		}
	}
	return fns, structs, []error{errNoMain()}
}

// allFnExistPass requires every Call (not NativeCall) anywhere inside every
// function body to target a declared function.
func allFnExistPass(fns []FnDecl, structs []StructDecl) ([]FnDecl, []StructDecl, []error) {
	declared := make(map[string]bool, len(fns))
	for _, f := range fns {
		declared[f.Name] = true
	}
	var errs []error
	for _, f := range fns {
		for _, s := range f.Body {
			walkStmtExprs(s, func(e Expr) {
				call, ok := e.(*CallExpr)
				if !ok {
					return
				}
				name, ok := calleeName(call.Callee)
				if !ok || !declared[name] {
					n := "<non-variable callee>"
					if ok {
						n = name
					}
					errs = append(errs, errUndefinedFunctionSem(call.Line, n))
				}
			})
		}
	}
	return fns, structs, errs
}

// structInitUniqueFieldsPass requires the field names supplied in every
// struct initialiser to be pairwise distinct.
func structInitUniqueFieldsPass(fns []FnDecl, structs []StructDecl) ([]FnDecl, []StructDecl, []error) {
	var errs []error
	for _, f := range fns {
		for _, s := range f.Body {
			walkStmts(s, func(st Stmt) {
				si, ok := st.(*StructInitStmt)
				if !ok {
					return
				}
				var seen []string
				for _, fld := range si.Fields {
					for _, s2 := range seen {
						if s2 == fld.Name {
							errs = append(errs, errDuplicateField(si.Line, fld.Name, si.StructName))
						}
					}
					seen = append(seen, fld.Name)
				}
			})
		}
	}
	return fns, structs, errs
}

// structInitFieldMatchPass requires the field-name set supplied in a struct
// initialiser to equal the declared set exactly; unknown and missing fields
// produce separate diagnostics.
func structInitFieldMatchPass(fns []FnDecl, structs []StructDecl) ([]FnDecl, []StructDecl, []error) {
	declByName := make(map[string]StructDecl, len(structs))
	for _, s := range structs {
		declByName[s.Name] = s
	}
	var errs []error
	for _, f := range fns {
		for _, s := range f.Body {
			walkStmts(s, func(st Stmt) {
				si, ok := st.(*StructInitStmt)
				if !ok {
					return
				}
				decl, ok := declByName[si.StructName]
				if !ok {
					return
				}
				declFields := make(map[string]bool, len(decl.Fields))
				for _, fld := range decl.Fields {
					declFields[fld.Name] = true
				}
				initFields := make(map[string]bool, len(si.Fields))
				for _, fld := range si.Fields {
					initFields[fld.Name] = true
				}
				for name := range declFields {
					if !initFields[name] {
						errs = append(errs, errMissingField(si.Line, name, si.StructName))
					}
				}
				for name := range initFields {
					if !declFields[name] {
						errs = append(errs, errUnknownField(si.Line, name, si.StructName))
					}
				}
			})
		}
	}
	return fns, structs, errs
}

// deadCodeAfterReturnPass prunes unreachable statements. For every function
// other than main, if the first top-level Return statement of its body
// appears before the last top-level statement, the body is truncated to keep
// that Return itself but drop everything strictly after it, and a warning is
// emitted naming the function.
func deadCodeAfterReturnPass(fns []FnDecl, structs []StructDecl) ([]FnDecl, []StructDecl, []error) {
	var errs []error
	out := make([]FnDecl, len(fns))
	copy(out, fns)
	for i := range out {
		if out[i].Name == "main" {
			continue
		}
		idx := -1
		for j, s := range out[i].Body {
			if _, ok := s.(*ReturnStmt); ok {
				idx = j
				break
			}
		}
		if idx >= 0 && idx < len(out[i].Body)-1 {
			errs = append(errs, warnDeadCodeAfterReturn(out[i].Body[idx].Meta().Line, out[i].Name))
			out[i].Body = out[i].Body[:idx+1]
		}
	}
	return out, structs, errs
}

// walkStmts visits st and every statement nested within it (block bodies,
// if/else branches, loop bodies), calling visit on each.
func walkStmts(st Stmt, visit func(Stmt)) {
	visit(st)
	switch s := st.(type) {
	case *BlockStmt:
		for _, c := range s.Stmts {
			walkStmts(c, visit)
		}
	case *IfStmt:
		walkStmts(s.Then, visit)
		if s.Else != nil {
			walkStmts(s.Else, visit)
		}
	case *LoopStmt:
		walkStmts(s.Body, visit)
	}
}

// walkStmtExprs visits every expression reachable from st, including
// expressions nested inside other expressions (call arguments, binary
// operands, and so on), not just top-level expression statements.
func walkStmtExprs(st Stmt, visit func(Expr)) {
	walkStmts(st, func(s Stmt) {
		switch n := s.(type) {
		case *LetStmt:
			walkExpr(n.Init, visit)
		case *StructInitStmt:
			for _, f := range n.Fields {
				walkExpr(f.Expr, visit)
			}
		case *IfStmt:
			walkExpr(n.Cond, visit)
		case *PrintStmt:
			walkExpr(n.Expr, visit)
		case *ReturnStmt:
			if n.Expr != nil {
				walkExpr(n.Expr, visit)
			}
		case *ExprStmt:
			walkExpr(n.Expr, visit)
		}
	})
}

// walkExpr visits e and every expression nested within it.
func walkExpr(e Expr, visit func(Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch ex := e.(type) {
	case *BinaryExpr:
		walkExpr(ex.Left, visit)
		walkExpr(ex.Right, visit)
	case *UnaryExpr:
		walkExpr(ex.Operand, visit)
	case *GroupingExpr:
		walkExpr(ex.Value, visit)
	case *CallExpr:
		walkExpr(ex.Callee, visit)
		if ex.Arg != nil {
			walkExpr(ex.Arg, visit)
		}
	case *NativeCallExpr:
		walkExpr(ex.Callee, visit)
		for _, a := range ex.Args {
			walkExpr(a, visit)
		}
	case *FieldAccessExpr:
		walkExpr(ex.Parent, visit)
	case *AssignmentExpr:
		walkExpr(ex.Value, visit)
	}
}
