package primitives

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// Scope is what an input expression can see.
type Scope struct {
	Vars   map[string]any
	Args   map[string]any
	Target string
}

// Evaluator evaluates block inputs. Literal inputs are returned as is;
// string inputs of the form $(expr) or ${ body } are JavaScript, run with
// vars, args and target bound.
//
// An Evaluator owns one JavaScript runtime and must not be shared between
// goroutines.
type Evaluator struct {
	vm *goja.Runtime
}

// NewEvaluator creates an evaluator with a fresh JavaScript runtime.
func NewEvaluator() *Evaluator {
	return &Evaluator{vm: goja.New()}
}

// IsExpression reports whether s is a $(...) or ${...} expression.
func IsExpression(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 3 && s[0] == '$' &&
		((s[1] == '(' && s[len(s)-1] == ')') || (s[1] == '{' && s[len(s)-1] == '}'))
}

// Eval returns the value of input v in scope.
func (e *Evaluator) Eval(v any, scope Scope) (any, error) {
	s, ok := v.(string)
	if !ok || !IsExpression(s) {
		return v, nil
	}
	s = strings.TrimSpace(s)

	var code string
	if s[1] == '(' {
		code = s[2 : len(s)-1]
	} else {
		code = "(function(){" + s[2:len(s)-1] + "})()"
	}

	vars := scope.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	args := scope.Args
	if args == nil {
		args = map[string]any{}
	}
	if err := e.vm.Set("vars", vars); err != nil {
		return nil, fmt.Errorf("set vars: %w", err)
	}
	if err := e.vm.Set("args", args); err != nil {
		return nil, fmt.Errorf("set args: %w", err)
	}
	if err := e.vm.Set("target", scope.Target); err != nil {
		return nil, fmt.Errorf("set target: %w", err)
	}

	val, err := e.vm.RunString(code)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", s, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// ToNumber casts an input value to a number. Unparseable values are 0.
func ToNumber(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		if math.IsNaN(n) {
			return 0
		}
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case uint64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0
		}
		return f
	}
	return 0
}

// ToBool casts an input value to a boolean. The empty string, "0" and
// "false" (any case) are false, as are zero and nil.
func ToBool(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "", "0", "false":
			return false
		}
		return true
	}
	return ToNumber(v) != 0
}

// ToString casts an input value to text. Whole numbers print without a
// decimal point.
func ToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
