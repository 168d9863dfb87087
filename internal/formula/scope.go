package formula

import (
	"fmt"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/conf"
	"github.com/expr-lang/expr/parser"
)

var (
	allowedUnary = map[string]bool{"-": true, "+": true, "!": true, "not": true}

	allowedBinary = map[string]bool{
		"+": true, "-": true, "*": true, "/": true, "%": true, "**": true, "^": true,
		"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
		"&&": true, "||": true, "and": true, "or": true,
	}

	allowedCalls = map[string]bool{
		"sin": true, "cos": true, "exp": true, "pow": true, "noise": true,
		failFunc: true, errorFunc: true,
	}
)

// checkScope parses normalized the way Compile does and walks the tree,
// refusing anything outside numeric formulas: predicates and other builtins,
// ranges, member access, collections, string operators and $env. String
// literals and Error(...) are only allowed inside a fail(...) message.
func checkScope(normalized string) error {
	cfg := conf.CreateNew()
	for _, op := range options() {
		op(cfg)
	}
	for name := range cfg.Disabled {
		delete(cfg.Builtins, name)
	}
	tree, err := parser.ParseWithConfig(normalized, cfg)
	if err != nil {
		return err
	}
	return walkScope(tree.Node, false)
}

func walkScope(node ast.Node, message bool) error {
	switch n := node.(type) {
	case *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode:
		return nil
	case *ast.StringNode:
		if !message {
			return fmt.Errorf("string %q is only allowed in an error message", n.Value)
		}
		return nil
	case *ast.IdentifierNode:
		if n.Value == "$env" {
			return fmt.Errorf("$env is not available")
		}
		return nil
	case *ast.UnaryNode:
		if !allowedUnary[n.Operator] {
			return fmt.Errorf("operator %q is not allowed", n.Operator)
		}
		return walkScope(n.Node, message)
	case *ast.BinaryNode:
		if !allowedBinary[n.Operator] {
			return fmt.Errorf("operator %q is not allowed", n.Operator)
		}
		if err := walkScope(n.Left, message); err != nil {
			return err
		}
		return walkScope(n.Right, message)
	case *ast.ConditionalNode:
		for _, c := range []ast.Node{n.Cond, n.Exp1, n.Exp2} {
			if err := walkScope(c, message); err != nil {
				return err
			}
		}
		return nil
	case *ast.VariableDeclaratorNode:
		if err := walkScope(n.Value, message); err != nil {
			return err
		}
		return walkScope(n.Expr, message)
	case *ast.SequenceNode:
		for _, c := range n.Nodes {
			if err := walkScope(c, message); err != nil {
				return err
			}
		}
		return nil
	case *ast.CallNode:
		callee, ok := n.Callee.(*ast.IdentifierNode)
		if !ok || !allowedCalls[callee.Value] {
			return fmt.Errorf("call to %s is not allowed", n.Callee.String())
		}
		if callee.Value == errorFunc && !message {
			return fmt.Errorf("%s(...) is only allowed after throw", errorFunc)
		}
		inner := message || callee.Value == failFunc
		for _, arg := range n.Arguments {
			if err := walkScope(arg, inner); err != nil {
				return err
			}
		}
		return nil
	case *ast.BuiltinNode:
		return fmt.Errorf("builtin %s is not available", n.Name)
	}
	return fmt.Errorf("%s is not allowed in a formula", node.String())
}
