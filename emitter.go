package evelin

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// scopeEntry is what the emitter binds a source-visible name to: an IR
// type, the struct name when that type is an Aggregate, and the IR value
// (always a Temporary) holding it.
type scopeEntry struct {
	ty         Type
	structName string
	val        Value
}

type loopLabels struct {
	start, end string
}

// Emitter lowers a type-annotated AST into an IR Module. It keeps a scope
// stack for variable bindings, one shared counter for temporaries, string
// globals and labels, and a layout table for declared structs.
type Emitter struct {
	tmpCounter int
	scopes     []map[string]scopeEntry
	loops      []loopLabels
	layouts    map[string]StructLayout
	fnByName   map[string]FnDecl
	module     *Module
}

// NewEmitter prepares an Emitter over a fully type-checked declaration set.
func NewEmitter(fns []FnDecl, structs []StructDecl) *Emitter {
	e := &Emitter{
		layouts:  make(map[string]StructLayout, len(structs)),
		fnByName: make(map[string]FnDecl, len(fns)),
		module:   &Module{},
	}
	for _, f := range fns {
		e.fnByName[f.Name] = f
	}
	e.emitStructLayouts(structs)
	return e
}

// irTypeOf lowers a DType to its IR Type. String values are pointers to
// data, so they lower to Long; Void lowers to a synthetic Word for
// IR-uniformity.
func (e *Emitter) irTypeOf(d DType) Type {
	if d.IsDerived {
		return TyAggregate
	}
	switch d.Prim {
	case TInt:
		return TyWord
	case TFloat:
		return TyDouble
	case TString:
		return TyLong
	default: // Void: synthetic Word for IR-uniformity
		return TyWord
	}
}

// emitStructLayouts computes every declared struct's layout and publishes a
// TypeDef for it. Structs referencing other structs as field types are
// resolved on demand (memoised, cycle-safe) so declaration order in the
// source never matters.
func (e *Emitter) emitStructLayouts(structs []StructDecl) {
	declByName := make(map[string]StructDecl, len(structs))
	for _, s := range structs {
		declByName[s.Name] = s
	}
	inProgress := make(map[string]bool, len(structs))

	var resolve func(name string) (StructLayout, bool)
	resolve = func(name string) (StructLayout, bool) {
		if layout, ok := e.layouts[name]; ok {
			return layout, true
		}
		decl, ok := declByName[name]
		if !ok || inProgress[name] {
			return StructLayout{}, false
		}
		inProgress[name] = true
		layout := computeStructLayout(decl, e.irTypeOf, resolve)
		inProgress[name] = false
		e.layouts[name] = layout
		return layout, true
	}

	for _, s := range structs {
		resolve(s.Name)
		if log.IsLevelEnabled(log.TraceLevel) {
			log.Trace("emitter: struct layout\n" + e.layouts[s.Name].Dump(s.Name))
		}
	}
	for _, s := range structs {
		layout := e.layouts[s.Name]
		td := &TypeDef{Name: s.Name, Alignment: layout.Align}
		fieldType := make(map[string]DType, len(s.Fields))
		for _, f := range s.Fields {
			fieldType[f.Name] = f.Type
		}
		for _, name := range layout.Order {
			it := TypeDefItem{Member: layout.Fields[name].Type, Count: 1}
			if ft := fieldType[name]; ft.IsDerived {
				it.AggName = ft.Derived
			}
			td.Items = append(td.Items, it)
		}
		e.module.AddType(td)
	}
}

func (e *Emitter) initDataDefs() {
	formats := []struct{ name, text string }{
		{"___FMT_WORD", "%d"},
		{"___FMT_LONG", "%s"},
		{"___FMT_SINGLE", "%f"},
		{"___FMT_DOUBLE", "%lf"},
	}
	for _, f := range formats {
		e.module.AddData(&DataDef{
			Linkage: PrivateLinkage(),
			Name:    f.name,
			Items: []DataDefItem{
				{Member: TyByte, Item: DataItem{IsStr: true, Str: []byte(f.text)}},
				{Member: TyByte, Item: DataItem{Const: 0}},
			},
		})
	}
}

// Emit lowers every function into IR and returns the finished Module. An
// emitter error is fatal: the first one encountered aborts emission
// immediately, since the IR would otherwise be malformed.
func (e *Emitter) Emit(fns []FnDecl) (*Module, error) {
	e.initDataDefs()
	for i := range fns {
		if err := e.emitFunction(&fns[i]); err != nil {
			return nil, errors.Wrapf(err, "emitting function %q", fns[i].Name)
		}
	}
	return e.module, nil
}

func (e *Emitter) pushScope() { e.scopes = append(e.scopes, map[string]scopeEntry{}) }
func (e *Emitter) popScope()  { e.scopes = e.scopes[:len(e.scopes)-1] }

func (e *Emitter) newTmp() Value {
	e.tmpCounter++
	return Temporary(fmt.Sprintf("tmp.%d", e.tmpCounter))
}

func (e *Emitter) newGlobName() string {
	e.tmpCounter++
	return fmt.Sprintf("glob.%d", e.tmpCounter)
}

func (e *Emitter) getVar(name string) (scopeEntry, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if v, ok := e.scopes[i][name]; ok {
			return v, true
		}
	}
	return scopeEntry{}, false
}

func (e *Emitter) newVar(ty Type, structName, name string) (Value, error) {
	if _, ok := e.getVar(name); ok {
		return Value{}, errRedeclaredVariable(name)
	}
	tmp := e.newTmp()
	e.scopes[len(e.scopes)-1][name] = scopeEntry{ty: ty, structName: structName, val: tmp}
	return tmp, nil
}

func (e *Emitter) emitFunction(fn *FnDecl) error {
	log.WithField("fn", fn.Name).Trace("emitter: emitting function")
	e.pushScope()
	defer e.popScope()

	var params []FuncParam
	if fn.Parameter != nil {
		ty := e.irTypeOf(fn.Parameter.Type)
		structName := ""
		if fn.Parameter.Type.IsDerived {
			structName = fn.Parameter.Type.Derived
		}
		val, err := e.newVar(ty, structName, fn.Parameter.Name)
		if err != nil {
			return err
		}
		params = append(params, FuncParam{Type: ty, AggName: structName, Value: val})
	}
	retTy := e.irTypeOf(fn.ReturnType)
	irFn := NewFunction(PublicLinkage(), fn.Name, params, &retTy)
	irFn.AddBlock("start")

	for i := range fn.Body {
		if err := e.emitStmt(irFn, fn.Body[i]); err != nil {
			return err
		}
	}
	if !irFn.lastBlock().jumps() {
		irFn.addInstr(Instr{Op: IRet})
	}
	e.module.AddFunction(irFn)
	return nil
}

func (e *Emitter) emitStmt(fn *Function, s Stmt) error {
	switch st := s.(type) {
	case *BlockStmt:
		e.pushScope()
		defer e.popScope()
		for _, c := range st.Stmts {
			if err := e.emitStmt(fn, c); err != nil {
				return err
			}
		}
		return nil
	case *LetStmt:
		t, v, err := e.emitExpr(fn, st.Init)
		if err != nil {
			return err
		}
		dest, err := e.newVar(t, "", st.Name)
		if err != nil {
			return err
		}
		fn.addInstr(Instr{Op: ICopy, Dest: dest, DestType: t, Args: []Value{v}})
		return nil
	case *StructInitStmt:
		return e.emitStructInit(fn, st)
	case *IfStmt:
		return e.emitIf(fn, st)
	case *LoopStmt:
		return e.emitLoop(fn, st)
	case *BreakStmt:
		if len(e.loops) == 0 {
			return errBreakOutsideLoop(st.Line)
		}
		fn.addInstr(Instr{Op: IJmp, JumpThen: e.loops[len(e.loops)-1].end})
		return nil
	case *PrintStmt:
		return e.emitPrint(fn, st)
	case *ReturnStmt:
		if st.Expr == nil {
			fn.addInstr(Instr{Op: IRet})
			return nil
		}
		_, v, err := e.emitExpr(fn, st.Expr)
		if err != nil {
			return err
		}
		fn.addInstr(Instr{Op: IRet, RetVal: &v, HasRetVal: true})
		return nil
	case *ExprStmt:
		_, _, err := e.emitExpr(fn, st.Expr)
		return err
	default:
		return fmt.Errorf("emitter: unhandled statement %T", s)
	}
}

func (e *Emitter) emitStructInit(fn *Function, st *StructInitStmt) error {
	layout, ok := e.layouts[st.StructName]
	if !ok {
		return fmt.Errorf("emitter: unknown struct %q", st.StructName)
	}
	dest, err := e.newVar(TyAggregate, st.StructName, st.Name)
	if err != nil {
		return err
	}
	fn.addInstr(Instr{Op: IAlloc8, Dest: dest, DestType: TyLong, Size: layout.Size})
	for _, f := range st.Fields {
		fl, ok := layout.Fields[f.Name]
		if !ok {
			return fmt.Errorf("emitter: unknown field %q on struct %q", f.Name, st.StructName)
		}
		if fl.Type == TyAggregate {
			return errUnsupportedNestedAggregate(f.Name)
		}
		_, v, err := e.emitExpr(fn, f.Expr)
		if err != nil {
			return err
		}
		ptr := e.newTmp()
		fn.addInstr(Instr{Op: IAdd, Dest: ptr, DestType: TyLong, Args: []Value{dest, ConstU(fl.Offset)}})
		fn.addInstr(Instr{Op: IStore, DestType: fl.Type, Args: []Value{ptr, v}})
	}
	return nil
}

func (e *Emitter) emitIf(fn *Function, st *IfStmt) error {
	_, cond, err := e.emitExpr(fn, st.Cond)
	if err != nil {
		return err
	}
	e.tmpCounter++
	n := e.tmpCounter
	ifLabel := fmt.Sprintf("cond.%d.if", n)
	elseLabel := fmt.Sprintf("cond.%d.else", n)
	endLabel := fmt.Sprintf("cond.%d.end", n)

	target := endLabel
	if st.Else != nil {
		target = elseLabel
	}
	fn.addInstr(Instr{Op: IJnz, Args: []Value{cond}, JumpThen: ifLabel, JumpElse: target})

	fn.AddBlock(ifLabel)
	if err := e.emitStmt(fn, st.Then); err != nil {
		return err
	}
	if st.Else != nil && !fn.lastBlock().jumps() {
		fn.addInstr(Instr{Op: IJmp, JumpThen: endLabel})
	}
	if st.Else != nil {
		fn.AddBlock(elseLabel)
		if err := e.emitStmt(fn, st.Else); err != nil {
			return err
		}
	}
	fn.AddBlock(endLabel)
	return nil
}

func (e *Emitter) emitLoop(fn *Function, st *LoopStmt) error {
	e.tmpCounter++
	n := e.tmpCounter
	startLabel := fmt.Sprintf("loop.%d.start", n)
	endLabel := fmt.Sprintf("loop.%d.end", n)

	fn.addInstr(Instr{Op: IJmp, JumpThen: startLabel})
	fn.AddBlock(startLabel)
	e.loops = append(e.loops, loopLabels{start: startLabel, end: endLabel})
	if err := e.emitStmt(fn, st.Body); err != nil {
		e.loops = e.loops[:len(e.loops)-1]
		return err
	}
	e.loops = e.loops[:len(e.loops)-1]
	if !fn.lastBlock().jumps() {
		fn.addInstr(Instr{Op: IJmp, JumpThen: startLabel})
	}
	fn.AddBlock(endLabel)
	return nil
}

func (e *Emitter) emitPrint(fn *Function, st *PrintStmt) error {
	t, v, err := e.emitExpr(fn, st.Expr)
	if err != nil {
		return err
	}
	var fmtName string
	switch t {
	case TyWord:
		fmtName = "___FMT_WORD"
	case TyLong:
		fmtName = "___FMT_LONG"
	case TySingle:
		fmtName = "___FMT_SINGLE"
	case TyDouble:
		fmtName = "___FMT_DOUBLE"
	default:
		return errUnprintableType(t)
	}
	fn.addInstr(Instr{
		Op:            ICall,
		CallName:      "printf",
		CallArgs:      []CallArg{{Type: TyLong, Value: Global(fmtName)}, {Type: t, Value: v}},
		VariadicIndex: 1,
	})
	return nil
}

// emitExpr lowers e and returns its IR type and value.
func (e *Emitter) emitExpr(fn *Function, expr Expr) (Type, Value, error) {
	switch ex := expr.(type) {
	case *LiteralExpr:
		return e.emitLiteral(fn, ex)
	case *VariableExpr:
		se, ok := e.getVar(ex.Name)
		if !ok {
			return 0, Value{}, errEmitUndefinedVariable(ex.Name)
		}
		return se.ty, se.val, nil
	case *GroupingExpr:
		t, v, err := e.emitExpr(fn, ex.Value)
		if err != nil {
			return 0, Value{}, err
		}
		r := e.newTmp()
		fn.addInstr(Instr{Op: ICopy, Dest: r, DestType: t, Args: []Value{v}})
		return t, r, nil
	case *UnaryExpr:
		return e.emitUnary(fn, ex)
	case *BinaryExpr:
		return e.emitBinary(fn, ex)
	case *CallExpr:
		return e.emitCall(fn, ex)
	case *NativeCallExpr:
		return e.emitNativeCall(fn, ex)
	case *FieldAccessExpr:
		return e.emitFieldAccess(fn, ex)
	case *AssignmentExpr:
		return e.emitAssignment(fn, ex)
	default:
		return 0, Value{}, fmt.Errorf("emitter: unhandled expression %T", expr)
	}
}

func (e *Emitter) emitLiteral(fn *Function, ex *LiteralExpr) (Type, Value, error) {
	switch ex.Value.Kind {
	case LitInt:
		r := e.newTmp()
		fn.addInstr(Instr{Op: ICopy, Dest: r, DestType: TyWord, Args: []Value{ConstU(uint64(ex.Value.I))}})
		return TyWord, r, nil
	case LitBool:
		var bit uint64
		if ex.Value.B {
			bit = 1
		}
		r := e.newTmp()
		fn.addInstr(Instr{Op: ICopy, Dest: r, DestType: TyWord, Args: []Value{ConstU(bit)}})
		return TyWord, r, nil
	case LitNull:
		r := e.newTmp()
		fn.addInstr(Instr{Op: ICopy, Dest: r, DestType: TyWord, Args: []Value{ConstU(0)}})
		return TyWord, r, nil
	case LitFloat:
		r := e.newTmp()
		fn.addInstr(Instr{Op: ICopy, Dest: r, DestType: TyDouble, Args: []Value{ConstU(math.Float64bits(ex.Value.F))}})
		return TyDouble, r, nil
	case LitString:
		name := e.newGlobName()
		e.module.AddData(&DataDef{
			Linkage: PrivateLinkage(),
			Name:    name,
			Items: []DataDefItem{
				{Member: TyByte, Item: DataItem{IsStr: true, Str: []byte(ex.Value.S)}},
				{Member: TyByte, Item: DataItem{Const: 0}},
			},
		})
		r := e.newTmp()
		fn.addInstr(Instr{Op: ICopy, Dest: r, DestType: TyLong, Args: []Value{Global(name)}})
		return TyLong, r, nil
	default:
		return 0, Value{}, fmt.Errorf("emitter: unhandled literal kind %v", ex.Value.Kind)
	}
}

func (e *Emitter) emitUnary(fn *Function, ex *UnaryExpr) (Type, Value, error) {
	if ex.Op == OpNot {
		// the type pass rejects '!' before lowering can be reached
		return 0, Value{}, fmt.Errorf("emitter: unary '!' is not supported")
	}
	t, v, err := e.emitExpr(fn, ex.Operand)
	if err != nil {
		return 0, Value{}, err
	}
	r := e.newTmp()
	var zero Value
	if t == TyDouble {
		zero = ConstU(math.Float64bits(0))
	} else {
		zero = ConstU(0)
	}
	fn.addInstr(Instr{Op: ISub, Dest: r, DestType: t, Args: []Value{zero, v}})
	return t, r, nil
}

// promote emits Extsw then Cast to turn an integer value into a Double so
// mixed-type arithmetic can be lowered uniformly.
func (e *Emitter) promote(fn *Function, v Value) Value {
	ext := e.newTmp()
	fn.addInstr(Instr{Op: IExtsw, Dest: ext, DestType: TyLong, Args: []Value{v}})
	cast := e.newTmp()
	fn.addInstr(Instr{Op: ICast, Dest: cast, DestType: TyDouble, Args: []Value{ext}})
	return cast
}

func (e *Emitter) emitBinary(fn *Function, ex *BinaryExpr) (Type, Value, error) {
	tl, vl, err := e.emitExpr(fn, ex.Left)
	if err != nil {
		return 0, Value{}, err
	}
	tr, vr, err := e.emitExpr(fn, ex.Right)
	if err != nil {
		return 0, Value{}, err
	}

	if tl == TyDouble && tr != TyDouble {
		vr = e.promote(fn, vr)
		tr = TyDouble
	} else if tr == TyDouble && tl != TyDouble {
		vl = e.promote(fn, vl)
		tl = TyDouble
	}
	opTy := TyWord
	if tl == TyDouble {
		opTy = TyDouble
	}

	if isComparison(ex.Op) {
		r := e.newTmp()
		fn.addInstr(Instr{Op: ICmp, Dest: r, DestType: opTy, CmpPred: cmpPredFor(ex.Op), Args: []Value{vl, vr}})
		return TyWord, r, nil
	}

	r := e.newTmp()
	fn.addInstr(Instr{Op: binInstrOp(ex.Op), Dest: r, DestType: opTy, Args: []Value{vl, vr}})
	return opTy, r, nil
}

func isComparison(op BinOp) bool {
	switch op {
	case OpLess, OpLessEq, OpGreater, OpGreaterEq, OpEqEq, OpNotEq:
		return true
	default:
		return false
	}
}

func cmpPredFor(op BinOp) Cmp {
	switch op {
	case OpLess:
		return CmpSlt
	case OpLessEq:
		return CmpSle
	case OpGreater:
		return CmpSgt
	case OpGreaterEq:
		return CmpSge
	case OpEqEq:
		return CmpEq
	default:
		return CmpNe
	}
}

func binInstrOp(op BinOp) InstrOp {
	switch op {
	case OpAdd:
		return IAdd
	case OpSub:
		return ISub
	case OpMul:
		return IMul
	case OpDiv:
		return IDiv
	case OpMod:
		return IRem
	case OpAnd:
		return IAnd
	case OpOr:
		return IOr
	default:
		return IAdd
	}
}

func (e *Emitter) emitCall(fn *Function, ex *CallExpr) (Type, Value, error) {
	name, _ := calleeName(ex.Callee)
	callee, ok := e.fnByName[name]
	if !ok {
		return 0, Value{}, fmt.Errorf("emitter: undefined function %q", name)
	}
	retTy := e.irTypeOf(callee.ReturnType)
	var args []CallArg
	if ex.Arg != nil {
		at, av, err := e.emitExpr(fn, ex.Arg)
		if err != nil {
			return 0, Value{}, err
		}
		args = append(args, CallArg{Type: at, Value: av})
	}
	r := e.newTmp()
	fn.addInstr(Instr{Op: ICall, Dest: r, DestType: retTy, CallName: name, CallArgs: args, VariadicIndex: -1})
	return retTy, r, nil
}

func (e *Emitter) emitNativeCall(fn *Function, ex *NativeCallExpr) (Type, Value, error) {
	name, _ := calleeName(ex.Callee)
	var args []CallArg
	for _, a := range ex.Args {
		at, av, err := e.emitExpr(fn, a)
		if err != nil {
			return 0, Value{}, err
		}
		args = append(args, CallArg{Type: at, Value: av})
	}
	r := e.newTmp()
	fn.addInstr(Instr{Op: ICall, Dest: r, DestType: TyWord, CallName: name, CallArgs: args, VariadicIndex: -1})
	return TyWord, r, nil
}

func (e *Emitter) emitFieldAccess(fn *Function, ex *FieldAccessExpr) (Type, Value, error) {
	v, ok := ex.Parent.(*VariableExpr)
	if !ok {
		return 0, Value{}, fmt.Errorf("emitter: field access parent must be a variable")
	}
	se, ok := e.getVar(v.Name)
	if !ok {
		return 0, Value{}, errEmitUndefinedVariable(v.Name)
	}
	if se.ty != TyAggregate {
		return 0, Value{}, fmt.Errorf("emitter: %q is not a struct value", v.Name)
	}
	layout, ok := e.layouts[se.structName]
	if !ok {
		return 0, Value{}, fmt.Errorf("emitter: unknown struct %q", se.structName)
	}
	fl, ok := layout.Fields[ex.Field]
	if !ok {
		return 0, Value{}, fmt.Errorf("emitter: struct %q has no field %q", se.structName, ex.Field)
	}
	ptr := e.newTmp()
	fn.addInstr(Instr{Op: IAdd, Dest: ptr, DestType: TyLong, Args: []Value{se.val, ConstU(fl.Offset)}})
	r := e.newTmp()
	fn.addInstr(Instr{Op: ILoad, Dest: r, DestType: fl.Type, Args: []Value{ptr}})
	return fl.Type, r, nil
}

func (e *Emitter) emitAssignment(fn *Function, ex *AssignmentExpr) (Type, Value, error) {
	t, v, err := e.emitExpr(fn, ex.Value)
	if err != nil {
		return 0, Value{}, err
	}
	se, ok := e.getVar(ex.Name)
	if !ok {
		return 0, Value{}, errEmitUndefinedVariable(ex.Name)
	}
	fn.addInstr(Instr{Op: ICopy, Dest: se.val, DestType: t, Args: []Value{v}})
	return t, se.val, nil
}
