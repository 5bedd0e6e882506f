package compiler

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/bqviews/internal/catalog"
)

var (
	createViewRe = regexp.MustCompile(`(?is)^create\s+(?:or\s+replace\s+)?view\b`)
	viewTargetRe = regexp.MustCompile("(?is)^create\\s+(?:or\\s+replace\\s+)?view\\s+(?:if\\s+not\\s+exists\\s+)?(`[^`]+`|[A-Za-z0-9_.:-]+)")
)

// stripLeading removes leading whitespace and comments: "--" and "#" line
// comments (such as #standardSQL) and /* */ blocks.
func stripLeading(text string) string {
	for {
		text = strings.TrimLeft(text, " \t\r\n\ufeff")
		switch {
		case strings.HasPrefix(text, "--"), strings.HasPrefix(text, "#"):
			i := strings.IndexByte(text, '\n')
			if i < 0 {
				return ""
			}
			text = text[i+1:]
		case strings.HasPrefix(text, "/*"):
			i := strings.Index(text[2:], "*/")
			if i < 0 {
				return ""
			}
			text = text[i+4:]
		default:
			return text
		}
	}
}

// HasCreateView reports whether text already starts with a CREATE [OR REPLACE]
// VIEW statement, ignoring leading whitespace and comments.
func HasCreateView(text string) bool {
	return createViewRe.MatchString(stripLeading(text))
}

// DeclaredTarget returns the backtick-quoted identifier named by a CREATE VIEW
// header. A dataset.view target is qualified with defaultProject; a bare view
// name with both defaults. ok is false when there is no usable header.
func DeclaredTarget(text, defaultProject, defaultDataset string) (string, bool) {
	m := viewTargetRe.FindStringSubmatch(stripLeading(text))
	if m == nil {
		return "", false
	}
	name := catalog.Unquote(m[1])
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		return catalog.Identifier(defaultProject, defaultDataset, parts[0]), true
	case 2:
		return catalog.Identifier(defaultProject, parts[0], parts[1]), true
	default:
		return "`" + name + "`", true
	}
}
