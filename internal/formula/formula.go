// Package formula compiles user formulas of time into sandboxed programs.
//
// A formula sees only the variable t, the constants PI and E, arithmetic and
// comparison operators, and the helpers sin, cos, exp, pow and noise. Every
// other expr builtin is disabled and the parsed tree is checked against an
// allowlist, so formulas cannot reach host state or do I/O.
package formula

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/vm"
)

// maxNodes caps the size of a compiled formula.
const maxNodes = 4096

// ErrRejected matches every compile or acceptance failure.
var ErrRejected = errors.New("formula rejected")

// RejectedError carries the reason a candidate formula was refused.
type RejectedError struct {
	Source string
	Reason string
}

func (e *RejectedError) Error() string {
	return "formula rejected: " + e.Reason
}

// Is makes errors.Is(err, ErrRejected) hold for every RejectedError.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Formula is a compiled, accepted formula. Eval reuses one VM and a single
// variable map, so a Formula must be owned by one goroutine at a time.
type Formula struct {
	Source string

	program *vm.Program
	machine vm.VM
	env     map[string]any
}

// Compile builds a formula from source and evaluates it once at t=0 to accept it.
func Compile(source string) (*Formula, error) {
	normalized := Normalize(source)
	program, err := expr.Compile(normalized, options()...)
	if err != nil {
		return nil, reject(source, err)
	}
	if err := checkScope(normalized); err != nil {
		return nil, reject(source, err)
	}

	f := &Formula{
		Source:  source,
		program: program,
		env:     newEnv(),
	}
	if _, err := f.Eval(0); err != nil {
		return nil, reject(source, err)
	}
	return f, nil
}

// Eval evaluates the formula at time t (seconds).
func (f *Formula) Eval(t float64) (float64, error) {
	f.env["t"] = t
	out, err := f.machine.Run(f.program, f.env)
	if err != nil {
		return 0, err
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("formula returned %T, want number", out)
	}
	return v, nil
}

func newEnv() map[string]any {
	return map[string]any{
		"t":  0.0,
		"PI": math.Pi,
		"E":  math.E,
	}
}

func options() []expr.Option {
	return []expr.Option{
		expr.Env(newEnv()),
		expr.DisableAllBuiltins(),
		expr.AsFloat64(),
		expr.MaxNodes(maxNodes),
		expr.Function("sin", unary(math.Sin), new(func(float64) float64)),
		expr.Function("cos", unary(math.Cos), new(func(float64) float64)),
		expr.Function("exp", unary(math.Exp), new(func(float64) float64)),
		expr.Function("pow", func(params ...any) (any, error) {
			x, err := toFloat(params[0])
			if err != nil {
				return nil, err
			}
			y, err := toFloat(params[1])
			if err != nil {
				return nil, err
			}
			return math.Pow(x, y), nil
		}, new(func(float64, float64) float64)),
		expr.Function("noise", func(params ...any) (any, error) {
			return rand.Float64()*2 - 1, nil
		}, new(func() float64)),
		expr.Function(errorFunc, func(params ...any) (any, error) {
			if len(params) == 0 {
				return "", nil
			}
			return fmt.Sprint(params[0]), nil
		}),
		expr.Function(failFunc, func(params ...any) (any, error) {
			if len(params) == 0 {
				return nil, errors.New("formula raised")
			}
			return nil, errors.New(fmt.Sprint(params[0]))
		}),
	}
}

func unary(fn func(float64) float64) func(params ...any) (any, error) {
	return func(params ...any) (any, error) {
		x, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		return fn(x), nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

// reject strips expr's source excerpt from err so the reason reads as a
// single line in the editor.
func reject(source string, err error) *RejectedError {
	reason := err.Error()
	var fe *file.Error
	if errors.As(err, &fe) && fe.Message != "" {
		reason = fe.Message
	}
	return &RejectedError{Source: source, Reason: reason}
}
