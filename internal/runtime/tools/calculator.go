package tools

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/user/agentcouncil/internal/types"
)

var mathFuncs = map[string]func(...float64) (float64, error){
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"sqrt":  unary(math.Sqrt),
	"abs":   unary(math.Abs),
	"log":   unary(math.Log),
	"exp":   unary(math.Exp),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"round": unary(func(x float64) float64 { return math.Floor(x + 0.5) }),
	"pow": func(args ...float64) (float64, error) {
		if len(args) != 2 {
			return 0, fmt.Errorf("pow takes 2 arguments, got %d", len(args))
		}
		return math.Pow(args[0], args[1]), nil
	},
}

func unary(f func(float64) float64) func(...float64) (float64, error) {
	return func(args ...float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("function takes 1 argument, got %d", len(args))
		}
		return f(args[0]), nil
	}
}

var calcEnv = map[string]any{
	"pi": math.Pi,
	"e":  math.E,
}

// calcOptions registers mathFuncs and turns off every expr builtin, so only
// arithmetic, pi, e and mathFuncs are reachable.
var calcOptions = func() []expr.Option {
	opts := []expr.Option{expr.Env(calcEnv), expr.DisableAllBuiltins()}
	for name, fn := range mathFuncs {
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			args := make([]float64, len(params))
			for i, p := range params {
				v, ok := toFloat(p)
				if !ok {
					return nil, fmt.Errorf("argument %d is not a number", i+1)
				}
				args[i] = v
			}
			return fn(args...)
		}))
	}
	return opts
}()

// bareDecimal matches numbers written without a leading zero, like ".5".
var bareDecimal = regexp.MustCompile(`(^|[^\w.])\.(\d)`)

// Evaluate computes an arithmetic expression with + - * / % ^, parentheses,
// the constants pi and e, and the functions in mathFuncs. A "Math." prefix
// on names is accepted.
func Evaluate(input string) (float64, error) {
	src := strings.ReplaceAll(input, "Math.", "")
	src = bareDecimal.ReplaceAllString(src, "${1}0.$2")
	if strings.TrimSpace(src) == "" {
		return 0, types.Invalid("expression", "unexpected end of expression")
	}

	program, err := expr.Compile(src, calcOptions...)
	if err != nil {
		return 0, types.Invalid("expression", "%s", firstLine(err.Error()))
	}
	out, err := expr.Run(program, calcEnv)
	if err != nil {
		return 0, types.Invalid("expression", "%s", firstLine(err.Error()))
	}
	v, ok := toFloat(out)
	if !ok {
		return 0, types.Invalid("expression", "result %v is not a number", out)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, types.Invalid("expression", "result is not a finite number (division by zero?)")
	}
	return v, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func formatNumber(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
