package catalog

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/rpattn/rentalreports/internal/domain"
)

// compareFunc is the helper ordering comparisons are rewritten to.
const compareFunc = "_compare"

// exprOptions returns the options shared by every report expression, including helper functions.
func exprOptions() []expr.Option {
	return []expr.Option{
		expr.Function(compareFunc, compareOrFalse),
		expr.Patch(nullSafeComparisons{}),
		expr.Function("yearMonth", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("yearMonth expects 1 argument")
			}
			if params[0] == nil {
				return nil, nil
			}
			ts, ok := params[0].(time.Time)
			if !ok {
				return nil, fmt.Errorf("yearMonth: argument must be a timestamp, got %T", params[0])
			}
			return ts.Format("2006-01"), nil
		}),
		expr.Function("daysBetween", func(params ...interface{}) (interface{}, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("daysBetween expects 2 arguments")
			}
			if params[0] == nil || params[1] == nil {
				return nil, nil
			}
			from, ok := params[0].(time.Time)
			if !ok {
				return nil, fmt.Errorf("daysBetween: first argument must be a timestamp, got %T", params[0])
			}
			to, ok := params[1].(time.Time)
			if !ok {
				return nil, fmt.Errorf("daysBetween: second argument must be a timestamp, got %T", params[1])
			}
			return to.Sub(from).Hours() / 24, nil
		}),
		expr.Function("coalesce", func(params ...interface{}) (interface{}, error) {
			for _, p := range params {
				if p != nil {
					return p, nil
				}
			}
			return nil, nil
		}),
		expr.Function("roundTo", func(params ...interface{}) (interface{}, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("roundTo expects 2 arguments")
			}
			if params[0] == nil {
				return nil, nil
			}
			value, ok := domain.ToFloat(params[0])
			if !ok {
				return nil, fmt.Errorf("roundTo: first argument must be numeric, got %T", params[0])
			}
			places, ok := domain.ToInt64(params[1])
			if !ok {
				return nil, fmt.Errorf("roundTo: places must be an integer")
			}
			scale := math.Pow(10, float64(places))
			return math.Round(value*scale) / scale, nil
		}),
	}
}

func compilePredicate(sc scope, clause, source string) (*vm.Program, error) {
	if source == "" {
		return nil, nil
	}
	options := append(exprOptions(), expr.AsBool())
	program, err := expr.Compile(source, options...)
	if err != nil {
		return nil, domain.ErrValidation(sc.report, "compile %s expression %q: %v", clause, source, err)
	}
	if err := sc.check(source); err != nil {
		return nil, err
	}
	return program, nil
}

func compileValue(sc scope, source string) (*vm.Program, error) {
	program, err := expr.Compile(source, exprOptions()...)
	if err != nil {
		return nil, domain.ErrValidation(sc.report, "compile expression %q: %v", source, err)
	}
	if err := sc.check(source); err != nil {
		return nil, err
	}
	return program, nil
}

// scope lists the names an expression may reference.
type scope struct {
	report string
	// inputs maps an alias to its bound input; expressions read alias.column.
	inputs map[string]ResolvedInput
	// names are bare identifiers: output columns and summaries for having,
	// the columns of a single input otherwise.
	names map[string]struct{}
}

// check rejects references to aliases, columns and names the scope does not bind.
func (sc scope) check(source string) error {
	tree, err := parser.Parse(source)
	if err != nil {
		return domain.ErrValidation(sc.report, "parse expression %q: %v", source, err)
	}
	refs := &references{skip: make(map[ast.Node]bool)}
	ast.Walk(&tree.Node, refs)

	for _, member := range refs.members {
		base, ok := member.Node.(*ast.IdentifierNode)
		if !ok {
			continue
		}
		input, isAlias := sc.inputs[base.Value]
		if !isAlias {
			if _, bare := sc.names[base.Value]; bare {
				continue
			}
			return domain.ErrValidation(sc.report, "expression %q references unknown alias %q", source, base.Value)
		}
		property, ok := member.Property.(*ast.StringNode)
		if !ok {
			continue
		}
		if !hasColumn(input.Columns, property.Value) {
			return &domain.UnknownFieldError{Table: input.Source, Column: property.Value}
		}
	}
	for _, ident := range refs.idents {
		if refs.skip[ident] || refs.locals[ident.Value] || strings.HasPrefix(ident.Value, "$") {
			continue
		}
		if _, ok := sc.names[ident.Value]; ok {
			continue
		}
		if _, ok := sc.inputs[ident.Value]; ok {
			continue
		}
		return &domain.UnknownFieldError{Table: sc.table(), Column: ident.Value}
	}
	return nil
}

// table names the source reported for an unknown bare name.
func (sc scope) table() string {
	if len(sc.inputs) == 1 {
		for _, input := range sc.inputs {
			return input.Source
		}
	}
	return sc.report
}

// references collects member accesses and free identifiers of a parsed expression.
type references struct {
	members []*ast.MemberNode
	idents  []*ast.IdentifierNode
	// skip holds identifiers used as call targets or member bases.
	skip   map[ast.Node]bool
	locals map[string]bool
}

func (r *references) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.MemberNode:
		r.members = append(r.members, n)
		if base, ok := n.Node.(*ast.IdentifierNode); ok {
			r.skip[base] = true
		}
	case *ast.CallNode:
		r.skip[n.Callee] = true
	case *ast.VariableDeclaratorNode:
		if r.locals == nil {
			r.locals = make(map[string]bool)
		}
		r.locals[n.Name] = true
	case *ast.IdentifierNode:
		r.idents = append(r.idents, n)
	}
}

// nullSafeComparisons rewrites <, >, <= and >= into calls of compareFunc so a
// NULL operand yields false instead of a runtime error.
type nullSafeComparisons struct{}

func (nullSafeComparisons) Visit(node *ast.Node) {
	bin, ok := (*node).(*ast.BinaryNode)
	if !ok {
		return
	}
	switch bin.Operator {
	case "<", ">", "<=", ">=":
	default:
		return
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: compareFunc},
		Arguments: []ast.Node{&ast.StringNode{Value: bin.Operator}, bin.Left, bin.Right},
	})
}

// compareOrFalse evaluates an ordering comparison; NULL on either side is false.
func compareOrFalse(params ...any) (any, error) {
	if len(params) != 3 {
		return nil, fmt.Errorf("%s expects 3 arguments", compareFunc)
	}
	op, _ := params[0].(string)
	left, right := params[1], params[2]
	if left == nil || right == nil {
		return false, nil
	}
	c, ok := compareValues(left, right)
	if !ok {
		return nil, fmt.Errorf("invalid operation: %T %s %T", left, op, right)
	}
	switch op {
	case "<":
		return c < 0, nil
	case ">":
		return c > 0, nil
	case "<=":
		return c <= 0, nil
	case ">=":
		return c >= 0, nil
	}
	return nil, fmt.Errorf("unknown comparison %q", op)
}

func compareValues(left, right any) (int, bool) {
	if l, ok := domain.ToInt64(left); ok {
		if r, ok := domain.ToInt64(right); ok {
			return cmpOrdered(l, r), true
		}
	}
	if l, ok := domain.ToFloat(left); ok {
		if r, ok := domain.ToFloat(right); ok {
			return cmpOrdered(l, r), true
		}
		return 0, false
	}
	switch l := left.(type) {
	case string:
		if r, ok := right.(string); ok {
			return strings.Compare(l, r), true
		}
	case time.Time:
		if r, ok := right.(time.Time); ok {
			return l.Compare(r), true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// EvalBool runs a compiled predicate; a nil program admits every row.
func EvalBool(program *vm.Program, env map[string]any) (bool, error) {
	if program == nil {
		return true, nil
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, expected bool", output)
	}
	return result, nil
}

// EvalValue runs a compiled value expression.
func EvalValue(program *vm.Program, env map[string]any) (any, error) {
	return expr.Run(program, env)
}
