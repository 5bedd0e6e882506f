package ref

import (
	"fmt"
	"iter"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const (
	exprStart = "{{"
	exprEnd   = "}}"
	callName  = "ref"
)

// Keyword arguments accepted by ref().
const (
	ArgProject = "project"
	ArgDataset = "dataset"
)

// Scan returns the ref expressions of text in source order.
// A malformed expression yields a zero Reference with a *SyntaxError;
// scanning then resumes after that expression.
func Scan(file, text string) iter.Seq2[Reference, error] {
	return func(yield func(Reference, error) bool) {
		s := &scanner{file: file, src: text}
		for {
			r, ok, err := s.next()
			if !ok {
				return
			}
			if !yield(r, err) {
				return
			}
		}
	}
}

// Parse collects every reference in text. All syntax errors of the file are
// returned together as a *multierror.Error.
func Parse(file, text string) ([]Reference, error) {
	var refs []Reference
	var errs *multierror.Error
	for r, err := range Scan(file, text) {
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		refs = append(refs, r)
	}
	return refs, errs.ErrorOrNil()
}

// Targets returns the distinct target names of refs in first-seen order.
func Targets(refs []Reference) []string {
	seen := make(map[string]bool, len(refs))
	var out []string
	for _, r := range refs {
		if !seen[r.Target] {
			seen[r.Target] = true
			out = append(out, r.Target)
		}
	}
	return out
}

type scanner struct {
	file string
	src  string
	off  int // resume offset for the next search
}

// next finds the next recognized expression. ok is false at end of input.
func (s *scanner) next() (Reference, bool, error) {
	for s.off < len(s.src) {
		i := strings.Index(s.src[s.off:], exprStart)
		if i < 0 {
			s.off = len(s.src)
			return Reference{}, false, nil
		}
		start := s.off + i
		body := skipSpace(s.src, start+len(exprStart))
		if !isRefCall(s.src, body) {
			// Inert braces: plain SQL text.
			s.off = start + len(exprStart)
			continue
		}

		p := &callParser{src: s.src, start: start, pos: body + len(callName)}
		r, end, reason := p.parse()
		if reason != "" {
			end = s.resync(start)
			s.off = end
			return Reference{}, true, newSyntaxError(s.position(start), s.src[start:end], reason)
		}
		r.Span = Span{Start: start, End: end}
		r.Pos = s.position(start)
		r.Expr = s.src[start:end]
		s.off = end
		return r, true, nil
	}
	return Reference{}, false, nil
}

// resync returns the offset just past the closing delimiter of a broken
// expression, or the end of input when it is never closed.
func (s *scanner) resync(start int) int {
	if i := strings.Index(s.src[start+len(exprStart):], exprEnd); i >= 0 {
		return start + len(exprStart) + i + len(exprEnd)
	}
	return len(s.src)
}

// position converts a byte offset into a 1-based line and column.
func (s *scanner) position(off int) Position {
	before := s.src[:off]
	line := strings.Count(before, "\n") + 1
	col := off - strings.LastIndex(before, "\n")
	return Position{File: s.file, Line: line, Column: col}
}

// isRefCall reports whether src at i spells "ref" followed by an opening paren.
func isRefCall(src string, i int) bool {
	if !strings.HasPrefix(src[i:], callName) {
		return false
	}
	j := i + len(callName)
	if j < len(src) && isIdentChar(src[j]) {
		return false
	}
	j = skipSpace(src, j)
	return j < len(src) && src[j] == '('
}

// callParser parses the argument list of one ref call.
type callParser struct {
	src   string
	start int
	pos   int
}

// parse returns the reference and the offset after "}}".
// A non-empty reason describes why the expression is invalid.
func (p *callParser) parse() (Reference, int, string) {
	var r Reference

	p.skipSpace()
	p.pos++ // '(' is guaranteed by isRefCall
	p.skipSpace()

	if p.eof() {
		return r, 0, "unclosed expression: missing ')'"
	}
	switch c := p.peek(); {
	case c == ')':
		return r, 0, "ref() requires a view name as its first argument"
	case c == '\'' || c == '"':
		name, reason := p.readString("view name")
		if reason != "" {
			return r, 0, reason
		}
		r.Target = name
	case isIdentStart(c):
		ident := p.readIdent()
		p.skipSpace()
		if !p.eof() && p.peek() == '=' {
			return r, 0, fmt.Sprintf("ref() requires a view name as its first argument, got keyword %q", ident)
		}
		return r, 0, "the view name passed to ref() must be a quoted string literal"
	default:
		return r, 0, "the view name passed to ref() must be a quoted string literal"
	}

	seen := map[string]bool{}
	for {
		p.skipSpace()
		if p.eof() {
			return r, 0, "unclosed expression: missing ')'"
		}
		c := p.peek()
		if c == ')' {
			p.pos++
			break
		}
		if c != ',' {
			return r, 0, fmt.Sprintf("expected ',' or ')' but found %q", string(c))
		}
		p.pos++
		p.skipSpace()
		if p.eof() {
			return r, 0, "unclosed expression: missing ')'"
		}
		if p.peek() == ')' {
			p.pos++
			break
		}
		if c := p.peek(); c == '\'' || c == '"' {
			return r, 0, "ref() accepts a single positional argument"
		}
		key := p.readIdent()
		if key == "" {
			return r, 0, fmt.Sprintf("expected keyword argument but found %q", string(p.peek()))
		}
		if key != ArgProject && key != ArgDataset {
			return r, 0, fmt.Sprintf("unknown argument %q (expected %s or %s)", key, ArgProject, ArgDataset)
		}
		if seen[key] {
			return r, 0, fmt.Sprintf("argument %q given more than once", key)
		}
		seen[key] = true
		p.skipSpace()
		if p.eof() || p.peek() != '=' {
			return r, 0, fmt.Sprintf("expected '=' after %q", key)
		}
		p.pos++
		p.skipSpace()
		if p.eof() || (p.peek() != '\'' && p.peek() != '"') {
			return r, 0, fmt.Sprintf("the value of %s must be a quoted string literal", key)
		}
		val, reason := p.readString(key)
		if reason != "" {
			return r, 0, reason
		}
		if key == ArgProject {
			r.Project = val
		} else {
			r.Dataset = val
		}
	}

	p.skipSpace()
	if p.eof() {
		return r, 0, "unclosed expression: missing '}}'"
	}
	if !strings.HasPrefix(p.src[p.pos:], exprEnd) {
		return r, 0, "unexpected text after ref(...); expected '}}'"
	}
	return r, p.pos + len(exprEnd), ""
}

func (p *callParser) eof() bool  { return p.pos >= len(p.src) }
func (p *callParser) peek() byte { return p.src[p.pos] }

func (p *callParser) skipSpace() { p.pos = skipSpace(p.src, p.pos) }

func (p *callParser) readIdent() string {
	start := p.pos
	if p.eof() || !isIdentStart(p.peek()) {
		return ""
	}
	for !p.eof() && isIdentChar(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// readString reads a quoted literal; what names the argument for messages.
func (p *callParser) readString(what string) (string, string) {
	quote := p.peek()
	p.pos++
	start := p.pos
	for !p.eof() {
		c := p.peek()
		switch c {
		case quote:
			val := p.src[start:p.pos]
			p.pos++
			if strings.TrimSpace(val) == "" {
				return "", fmt.Sprintf("%s must not be empty", what)
			}
			return val, ""
		case '\n':
			return "", fmt.Sprintf("unterminated string for %s", what)
		case '\\':
			return "", fmt.Sprintf("escape sequences are not supported in %s", what)
		}
		p.pos++
	}
	return "", fmt.Sprintf("unterminated string for %s", what)
}

func skipSpace(src string, i int) int {
	for i < len(src) {
		switch src[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
