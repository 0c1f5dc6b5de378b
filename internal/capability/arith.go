package capability

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

var exprPattern = regexp.MustCompile(`[-+*/().\d\s]*\d[-+*/().\d\s]*`)

// ErrNoExpression means the payload holds no arithmetic to evaluate.
var ErrNoExpression = errors.New("no arithmetic expression")

// EvalArithmetic evaluates the longest arithmetic expression embedded in
// text, e.g. "compute 2+2" yields "4". Only digits, operators and
// parentheses reach the evaluator.
func EvalArithmetic(text string) (string, error) {
	var expr string
	for _, m := range exprPattern.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); len(m) > len(expr) {
			expr = m
		}
	}
	if expr == "" {
		return "", ErrNoExpression
	}

	v := cuecontext.New().CompileString(expr)
	if err := v.Err(); err != nil {
		return "", fmt.Errorf("evaluate %q: %w", expr, err)
	}
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return "", fmt.Errorf("evaluate %q: %w", expr, err)
		}
		return strconv.FormatInt(n, 10), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return "", fmt.Errorf("evaluate %q: %w", expr, err)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("evaluate %q: not a number", expr)
	}
}
