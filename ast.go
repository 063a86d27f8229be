package evelin

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// EveType is one of Evelin's primitive types.
type EveType int

const (
	TInt EveType = iota
	TFloat
	TString
	TVoid
)

func (t EveType) String() string {
	switch t {
	case TInt:
		return "int"
	case TFloat:
		return "float"
	case TString:
		return "string"
	case TVoid:
		return "void"
	default:
		return "?"
	}
}

// DType is either a primitive type or a named (derived) struct type.
type DType struct {
	Prim      EveType
	Derived   string // non-empty iff this is a derived (struct) type
	IsDerived bool
}

func Primitive(t EveType) DType     { return DType{Prim: t} }
func MakeDerived(name string) DType { return DType{Derived: name, IsDerived: true} }

func (d DType) String() string {
	if d.IsDerived {
		return d.Derived
	}
	return d.Prim.String()
}

func (d DType) Equal(o DType) bool {
	if d.IsDerived != o.IsDerived {
		return false
	}
	if d.IsDerived {
		return d.Derived == o.Derived
	}
	return d.Prim == o.Prim
}

// Metadata is attached to every expression node (and some statements, for
// diagnostics). ResolvedType is filled by the type pass, which overwrites it
// to Float on an operand it promotes in mixed Int/Float arithmetic.
type Metadata struct {
	Line         int
	ResolvedType *DType
}

// BinOp enumerates binary operators.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLess
	OpLessEq
	OpGreater
	OpGreaterEq
	OpEqEq
	OpNotEq
	OpAnd
	OpOr
)

var binOpNames = map[BinOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpLess: "<", OpLessEq: "<=", OpGreater: ">", OpGreaterEq: ">=",
	OpEqEq: "==", OpNotEq: "!=", OpAnd: "and", OpOr: "or",
}

func (b BinOp) String() string { return binOpNames[b] }

func binOpFromToken(k TokenKind) BinOp {
	switch k {
	case TokPlus:
		return OpAdd
	case TokMinus:
		return OpSub
	case TokStar:
		return OpMul
	case TokSlash:
		return OpDiv
	case TokPercent:
		return OpMod
	case TokLess:
		return OpLess
	case TokLessEqual:
		return OpLessEq
	case TokGreater:
		return OpGreater
	case TokGreaterEqual:
		return OpGreaterEq
	case TokEqualEqual:
		return OpEqEq
	case TokBangEqual:
		return OpNotEq
	case TokAnd:
		return OpAnd
	case TokOr:
		return OpOr
	default:
		panic(fmt.Sprintf("binOpFromToken: unhandled token kind %s", k))
	}
}

// UnOp enumerates unary operators.
type UnOp int

const (
	OpNeg UnOp = iota
	OpNot
)

func (u UnOp) String() string {
	if u == OpNeg {
		return "-"
	}
	return "!"
}

// Node is implemented by every AST node, expression or statement.
type Node interface {
	String() string
	Meta() *Metadata
}

// Expr is the sum type of expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is the sum type of statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// --- Expressions ---

type BinaryExpr struct {
	Left, Right Expr
	Op          BinOp
	Metadata
}

type UnaryExpr struct {
	Operand Expr
	Op      UnOp
	Metadata
}

type GroupingExpr struct {
	Value Expr
	Metadata
}

type LiteralExpr struct {
	Value Literal
	Metadata
}

type VariableExpr struct {
	Name string
	Metadata
}

// CallExpr is a call to a declared Evelin function: zero or one argument.
type CallExpr struct {
	Callee Expr
	Arg    Expr // nil if none
	Metadata
}

// NativeCallExpr is an `extern` call, with up to MaxNativeCallArgs arguments.
type NativeCallExpr struct {
	Callee Expr
	Args   []Expr
	Metadata
}

type FieldAccessExpr struct {
	Parent Expr
	Field  string
	Metadata
}

type AssignmentExpr struct {
	Name  string
	Value Expr
	Metadata
}

func (e *BinaryExpr) exprNode()      {}
func (e *UnaryExpr) exprNode()       {}
func (e *GroupingExpr) exprNode()    {}
func (e *LiteralExpr) exprNode()     {}
func (e *VariableExpr) exprNode()    {}
func (e *CallExpr) exprNode()        {}
func (e *NativeCallExpr) exprNode()  {}
func (e *FieldAccessExpr) exprNode() {}
func (e *AssignmentExpr) exprNode()  {}

func (e *BinaryExpr) Meta() *Metadata      { return &e.Metadata }
func (e *UnaryExpr) Meta() *Metadata       { return &e.Metadata }
func (e *GroupingExpr) Meta() *Metadata    { return &e.Metadata }
func (e *LiteralExpr) Meta() *Metadata     { return &e.Metadata }
func (e *VariableExpr) Meta() *Metadata    { return &e.Metadata }
func (e *CallExpr) Meta() *Metadata        { return &e.Metadata }
func (e *NativeCallExpr) Meta() *Metadata  { return &e.Metadata }
func (e *FieldAccessExpr) Meta() *Metadata { return &e.Metadata }
func (e *AssignmentExpr) Meta() *Metadata  { return &e.Metadata }

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}
func (e *UnaryExpr) String() string    { return fmt.Sprintf("(%s%s)", e.Op, e.Operand) }
func (e *GroupingExpr) String() string { return fmt.Sprintf("(%s)", e.Value) }
func (e *LiteralExpr) String() string  { return e.Value.String() }
func (e *VariableExpr) String() string { return e.Name }
func (e *CallExpr) String() string {
	if e.Arg == nil {
		return fmt.Sprintf("%s()", e.Callee)
	}
	return fmt.Sprintf("%s(%s)", e.Callee, e.Arg)
}
func (e *NativeCallExpr) String() string { return fmt.Sprintf("extern %s(...)", e.Callee) }
func (e *FieldAccessExpr) String() string {
	return fmt.Sprintf("%s.%s", e.Parent, e.Field)
}
func (e *AssignmentExpr) String() string { return fmt.Sprintf("%s = %s", e.Name, e.Value) }

// --- Statements ---

type BlockStmt struct {
	Stmts []Stmt
	Metadata
}

type LetStmt struct {
	Name string
	Init Expr
	Metadata
}

type StructInitStmt struct {
	Name       string
	StructName string
	Fields     []StructInitField
	Metadata
}

type StructInitField struct {
	Name string
	Expr Expr
}

type IfStmt struct {
	Cond Expr
	Then Stmt
	Else Stmt // nil if absent
	Metadata
}

type LoopStmt struct {
	Body Stmt
	Metadata
}

type BreakStmt struct {
	Metadata
}

type PrintStmt struct {
	Expr Expr
	Metadata
}

type ReturnStmt struct {
	Expr Expr // nil if bare `return;`
	Metadata
}

type ExprStmt struct {
	Expr Expr
	Metadata
}

func (s *BlockStmt) stmtNode()      {}
func (s *LetStmt) stmtNode()        {}
func (s *StructInitStmt) stmtNode() {}
func (s *IfStmt) stmtNode()         {}
func (s *LoopStmt) stmtNode()       {}
func (s *BreakStmt) stmtNode()      {}
func (s *PrintStmt) stmtNode()      {}
func (s *ReturnStmt) stmtNode()     {}
func (s *ExprStmt) stmtNode()       {}

func (s *BlockStmt) Meta() *Metadata      { return &s.Metadata }
func (s *LetStmt) Meta() *Metadata        { return &s.Metadata }
func (s *StructInitStmt) Meta() *Metadata { return &s.Metadata }
func (s *IfStmt) Meta() *Metadata         { return &s.Metadata }
func (s *LoopStmt) Meta() *Metadata       { return &s.Metadata }
func (s *BreakStmt) Meta() *Metadata      { return &s.Metadata }
func (s *PrintStmt) Meta() *Metadata      { return &s.Metadata }
func (s *ReturnStmt) Meta() *Metadata     { return &s.Metadata }
func (s *ExprStmt) Meta() *Metadata       { return &s.Metadata }

func (s *BlockStmt) String() string { return fmt.Sprintf("{ %d stmts }", len(s.Stmts)) }
func (s *LetStmt) String() string   { return fmt.Sprintf("let %s = %s;", s.Name, s.Init) }
func (s *StructInitStmt) String() string {
	return fmt.Sprintf("let %s = %s{...};", s.Name, s.StructName)
}
func (s *IfStmt) String() string {
	if s.Else == nil {
		return fmt.Sprintf("if (%s) %s", s.Cond, s.Then)
	}
	return fmt.Sprintf("if (%s) %s else %s", s.Cond, s.Then, s.Else)
}
func (s *LoopStmt) String() string  { return fmt.Sprintf("loop %s", s.Body) }
func (s *BreakStmt) String() string { return "break;" }
func (s *PrintStmt) String() string { return fmt.Sprintf("print %s;", s.Expr) }
func (s *ReturnStmt) String() string {
	if s.Expr == nil {
		return "return;"
	}
	return fmt.Sprintf("return %s;", s.Expr)
}
func (s *ExprStmt) String() string { return fmt.Sprintf("%s;", s.Expr) }

// --- Declarations ---

type FieldDecl struct {
	Name string
	Type DType
	Metadata
}

type FnDecl struct {
	Name       string
	Parameter  *FieldDecl // nil if none
	ReturnType DType
	Body       []Stmt
	Metadata
}

type StructDecl struct {
	Name   string
	Fields []FieldDecl
	Metadata
}

// Program is the root of a parsed translation unit.
type Program struct {
	Functions []FnDecl
	Structs   []StructDecl
}

// Dump renders the program as an indented tree, used by driver --debug
// trace output; not part of any core operation.
func (p *Program) Dump() string {
	tree := treeprint.New()
	tree.SetValue("Program")
	for _, s := range p.Structs {
		structNode := tree.AddBranch(fmt.Sprintf("struct %s", s.Name))
		for _, f := range s.Fields {
			structNode.AddNode(fmt.Sprintf("%s: %s", f.Name, f.Type))
		}
	}
	for _, fn := range p.Functions {
		sig := fn.Name + "()"
		if fn.Parameter != nil {
			sig = fmt.Sprintf("%s(%s: %s)", fn.Name, fn.Parameter.Name, fn.Parameter.Type)
		}
		fnNode := tree.AddBranch(fmt.Sprintf("fn %s -> %s", sig, fn.ReturnType))
		for _, st := range fn.Body {
			fnNode.AddNode(st.String())
		}
	}
	return tree.String()
}
