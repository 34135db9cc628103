package mutation

import (
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/net/html"

	"seo-optimizer/pkg/directive"
	"seo-optimizer/pkg/dom"
	"seo-optimizer/pkg/fsutil"
)

const summaryClip = 80

// rejection carries a fixed reason alongside the cause.
type rejection struct {
	reason string
	err    error
}

func (r *rejection) Error() string {
	if r.err == nil {
		return r.reason
	}
	return r.reason + ": " + r.err.Error()
}

func (r *rejection) Unwrap() error { return r.err }

func readDocument(path string) (*dom.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return dom.Parse(data)
}

// edit performs the single structural change named by d.Operation on the
// first node matching d.Selector and describes it.
func edit(doc *dom.Document, d directive.EditDirective) (string, error) {
	sel, err := dom.Compile(d.Selector)
	if err != nil {
		return "", &rejection{reason: "invalid selector", err: err}
	}
	n := doc.First(sel)
	if n == nil {
		return "", &rejection{
			reason: ReasonSelectorNotFound,
			err:    fmt.Errorf("%w: %s in %s", directive.ErrNotFound, d.Selector, d.TargetDocument),
		}
	}

	switch {
	case d.Operation.IsSet():
		return set(n, d), nil
	case d.Operation.IsInsert():
		return insert(n, d)
	default:
		return "", &rejection{reason: "unknown operation " + d.Operation.String()}
	}
}

func set(n *html.Node, d directive.EditDirective) string {
	switch d.Operation {
	case directive.TitleSet:
		return setText(n, "Title", d.Payload)
	case directive.H1Set:
		return setText(n, "H1", d.Payload)
	default:
		before := dom.Attr(n, "content")
		dom.SetAttr(n, "content", d.Payload)
		return fmt.Sprintf("%s: %q → %q", metaLabel(n), clip(before), clip(d.Payload))
	}
}

func setText(n *html.Node, label, payload string) string {
	before := dom.Text(n)
	dom.SetText(n, payload)
	return fmt.Sprintf("%s: %q → %q", label, clip(before), clip(payload))
}

// insert parses the payload in the context it will land in: the parent for
// sibling inserts, the node itself for appends.
func insert(n *html.Node, d directive.EditDirective) (string, error) {
	scope, where := n.Parent, "before"
	switch d.Operation {
	case directive.InsertAfter:
		where = "after"
	case directive.Append:
		scope, where = n, "into"
	}
	nodes, err := dom.ParseFragment(d.Payload, scope)
	if err != nil {
		return "", &rejection{reason: "malformed fragment", err: err}
	}
	if len(nodes) == 0 {
		return "", &rejection{reason: "empty fragment"}
	}
	switch d.Operation {
	case directive.InsertBefore:
		err = dom.InsertBefore(n, nodes)
	case directive.InsertAfter:
		err = dom.InsertAfter(n, nodes)
	default:
		dom.AppendChildren(n, nodes)
	}
	if err != nil {
		return "", &rejection{reason: "insert failed", err: err}
	}
	return fmt.Sprintf("Inserted %d bytes %s %s", len(d.Payload), where, d.Selector), nil
}

func metaLabel(n *html.Node) string {
	name := dom.Attr(n, "name")
	if name == "" {
		name = dom.Attr(n, "property")
	}
	if name == "" {
		return "Meta"
	}
	return "Meta " + name
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= summaryClip {
		return s
	}
	r := []rune(s)
	return string(r[:summaryClip]) + "…"
}

// writeDocument replaces the file in full; see fsutil.WriteFileAtomic.
func writeDocument(path string, doc *dom.Document, perm os.FileMode) error {
	data, err := doc.Render()
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, perm)
}
