package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selector is a compiled CSS-like selector. Supported forms:
//   - tag: "title", "h1"
//   - .class: ".services"
//   - #id: "#main"
//   - tag[attr] / tag[attr=val] / tag[attr="val"]: `meta[name="description"]`
//   - compounds such as "section.cta-section" or "div#main.wide"
//   - descendant combinator: "main .services h2"
type Selector struct {
	raw   string
	parts []simpleSelector
}

type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	key    string
	val    string
	hasVal bool
}

func (s Selector) String() string {
	return s.raw
}

// Compile parses sel. An empty or malformed selector is an error.
func Compile(sel string) (Selector, error) {
	tokens, err := splitDescendants(sel)
	if err != nil {
		return Selector{}, err
	}
	if len(tokens) == 0 {
		return Selector{}, fmt.Errorf("empty selector")
	}
	compiled := Selector{raw: strings.TrimSpace(sel)}
	for _, tok := range tokens {
		part, err := parseSimple(tok)
		if err != nil {
			return Selector{}, fmt.Errorf("selector %q: %w", sel, err)
		}
		compiled.parts = append(compiled.parts, part)
	}
	return compiled, nil
}

// MustCompile panics on a malformed selector.
func MustCompile(sel string) Selector {
	s, err := Compile(sel)
	if err != nil {
		panic(err)
	}
	return s
}

// splitDescendants splits on whitespace outside brackets and quotes.
func splitDescendants(sel string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		depth   int
		inQuote rune
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range sel {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			inQuote = r
			cur.WriteRune(r)
		case r == '[':
			depth++
			cur.WriteRune(r)
		case r == ']':
			if depth == 0 {
				return nil, fmt.Errorf("unbalanced ']' in %q", sel)
			}
			depth--
			cur.WriteRune(r)
		case depth == 0 && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if depth != 0 || inQuote != 0 {
		return nil, fmt.Errorf("unterminated attribute selector in %q", sel)
	}
	flush()
	return tokens, nil
}

func parseSimple(tok string) (simpleSelector, error) {
	var s simpleSelector

	for {
		open := strings.IndexByte(tok, '[')
		if open < 0 {
			break
		}
		end := strings.IndexByte(tok[open:], ']')
		if end < 0 {
			return s, fmt.Errorf("unterminated attribute selector")
		}
		end += open
		body := tok[open+1 : end]
		tok = tok[:open] + tok[end+1:]

		var m attrMatch
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			m.key = strings.TrimSpace(body[:eq])
			m.val = strings.Trim(strings.TrimSpace(body[eq+1:]), `"'`)
			m.hasVal = true
		} else {
			m.key = strings.TrimSpace(body)
		}
		if m.key == "" {
			return s, fmt.Errorf("empty attribute name")
		}
		s.attrs = append(s.attrs, m)
	}

	// What remains is tag, then any mix of #id and .class.
	i := strings.IndexAny(tok, ".#")
	if i < 0 {
		s.tag = strings.ToLower(tok)
		return s, nil
	}
	s.tag = strings.ToLower(tok[:i])
	rest := tok[i:]
	for rest != "" {
		marker := rest[0]
		rest = rest[1:]
		next := strings.IndexAny(rest, ".#")
		name := rest
		if next >= 0 {
			name, rest = rest[:next], rest[next:]
		} else {
			rest = ""
		}
		if name == "" {
			return s, fmt.Errorf("empty name after %q", marker)
		}
		if marker == '#' {
			s.id = name
		} else {
			s.classes = append(s.classes, name)
		}
	}
	return s, nil
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && s.tag != "*" && n.Data != s.tag {
		return false
	}
	if s.id != "" && Attr(n, "id") != s.id {
		return false
	}
	if len(s.classes) > 0 {
		have := strings.Fields(Attr(n, "class"))
		for _, want := range s.classes {
			if !containsString(have, want) {
				return false
			}
		}
	}
	for _, a := range s.attrs {
		val, ok := lookupAttr(n, a.key)
		if !ok || (a.hasVal && val != a.val) {
			return false
		}
	}
	return true
}

// QueryAll returns matches in document order.
func (s Selector) QueryAll(root *html.Node) []*html.Node {
	if len(s.parts) == 0 {
		return nil
	}
	var out []*html.Node
	walk(root, func(n *html.Node) {
		if s.matchesAt(n, len(s.parts)-1) {
			out = append(out, n)
		}
	})
	return out
}

// First returns the first match in document order, or nil.
func (s Selector) First(root *html.Node) *html.Node {
	if len(s.parts) == 0 {
		return nil
	}
	var found *html.Node
	walkUntil(root, func(n *html.Node) bool {
		if s.matchesAt(n, len(s.parts)-1) {
			found = n
			return true
		}
		return false
	})
	return found
}

// matchesAt checks part i against n and the earlier parts against some
// chain of n's ancestors.
func (s Selector) matchesAt(n *html.Node, i int) bool {
	if !s.parts[i].matches(n) {
		return false
	}
	if i == 0 {
		return true
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if s.matchesAt(p, i-1) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
