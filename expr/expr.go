package expr

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("invalid expression")

// ContextPrefix names the conversation context itself, so "context.x" and
// "x" read the same field.
const ContextPrefix = "context"

// aliases are the capitalised literal spellings conditions may use.
var aliases = map[string]any{
	"True":  true,
	"False": false,
	"None":  nil,
}

// functions are the only host calls a condition may make.
var functions = map[string]bool{"empty": true, "exists": true}

var options = []expr.Option{
	expr.AllowUndefinedVariables(),
	expr.Function("empty", func(params ...any) (any, error) {
		return !truthy(params[0]), nil
	}, new(func(any) bool)),
	expr.Function("exists", func(params ...any) (any, error) {
		return params[0] != nil, nil
	}, new(func(any) bool)),
}

// Expression is a compiled condition. It is immutable and safe for
// concurrent use.
type Expression struct {
	src     string
	program *vm.Program
}

// Parse compiles src into an Expression.
func Parse(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty condition", ErrSyntax)
	}

	program, err := expr.Compile(src, options...)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrSyntax, src, err)
	}

	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrSyntax, src, err)
	}

	guard := &callGuard{}
	ast.Walk(&tree.Node, guard)

	if guard.err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrSyntax, src, guard.err)
	}

	return &Expression{src: src, program: program}, nil
}

// callGuard rejects calls to anything but the registered functions.
type callGuard struct{ err error }

func (g *callGuard) Visit(n *ast.Node) {
	call, ok := (*n).(*ast.CallNode)
	if !ok || g.err != nil {
		return
	}

	if id, ok := call.Callee.(*ast.IdentifierNode); ok && functions[id.Value] {
		return
	}

	g.err = fmt.Errorf("call to %s is not allowed", call.Callee.String())
}

// MustParse is Parse for static expressions; it panics on error.
func MustParse(src string) *Expression {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}

	return e
}

// String returns the source text.
func (e *Expression) String() string { return e.src }

// Eval evaluates the expression against vars and reports its truth value.
// Unknown identifiers resolve to nil.
func (e *Expression) Eval(vars map[string]any) (bool, error) {
	env := make(map[string]any, len(vars)+len(aliases)+1)
	maps.Copy(env, aliases)
	maps.Copy(env, vars)
	env[ContextPrefix] = vars

	v, err := expr.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", e.src, err)
	}

	return truthy(v), nil
}

// truthy follows the usual scripting rules: nil, false, zero, the empty
// string and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
