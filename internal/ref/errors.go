package ref

import (
	"fmt"
	"unicode/utf8"
)

// SyntaxError reports a ref expression that could not be parsed.
type SyntaxError struct {
	Pos    Position
	Expr   string
	Reason string
}

// Position returns where the offending expression starts.
func (e *SyntaxError) Position() Position { return e.Pos }

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: template syntax error in %q: %s", e.Pos, e.Expr, e.Reason)
}

// maxExprLen bounds the expression text carried in errors.
const maxExprLen = 120

func newSyntaxError(pos Position, expr, reason string) *SyntaxError {
	if len(expr) > maxExprLen {
		cut := maxExprLen
		for cut > 0 && !utf8.RuneStart(expr[cut]) {
			cut--
		}
		expr = expr[:cut] + "..."
	}
	return &SyntaxError{Pos: pos, Expr: expr, Reason: reason}
}
