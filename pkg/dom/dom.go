// Package dom parses markup documents into mutable node trees, addresses
// nodes with CSS-like selectors and serialises the trees back.
package dom

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document owns one parsed node tree.
type Document struct {
	Root *html.Node
}

func Parse(data []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{Root: root}, nil
}

// Render serialises the whole tree.
func (d *Document) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.Root); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Document) First(s Selector) *html.Node {
	return s.First(d.Root)
}

func (d *Document) QueryAll(s Selector) []*html.Node {
	return s.QueryAll(d.Root)
}

// Text returns the concatenated, whitespace-trimmed text of n.
func Text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return strings.TrimSpace(b.String())
}

// SetText replaces all children of n with a single text node.
func SetText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func Attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// ParseFragment parses markup as it would appear inside context. A nil or
// non-element context parses as body content.
func ParseFragment(markup string, context *html.Node) ([]*html.Node, error) {
	if context == nil || context.Type != html.ElementNode {
		context = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

// InsertBefore places nodes, in order, immediately before ref.
func InsertBefore(ref *html.Node, nodes []*html.Node) error {
	if ref.Parent == nil {
		return fmt.Errorf("cannot insert before a detached node")
	}
	for _, n := range nodes {
		ref.Parent.InsertBefore(n, ref)
	}
	return nil
}

// InsertAfter places nodes, in order, immediately after ref.
func InsertAfter(ref *html.Node, nodes []*html.Node) error {
	if ref.Parent == nil {
		return fmt.Errorf("cannot insert after a detached node")
	}
	next := ref.NextSibling
	for _, n := range nodes {
		ref.Parent.InsertBefore(n, next)
	}
	return nil
}

// AppendChildren adds nodes as the last children of parent.
func AppendChildren(parent *html.Node, nodes []*html.Node) {
	for _, n := range nodes {
		parent.AppendChild(n)
	}
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// walkUntil stops as soon as fn returns true.
func walkUntil(n *html.Node, fn func(*html.Node) bool) bool {
	if fn(n) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if walkUntil(c, fn) {
			return true
		}
	}
	return false
}
