package synth

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"seo-optimizer/pkg/dom"
)

var (
	textPolicy   = bluemonday.StrictPolicy()
	markupPolicy = bluemonday.UGCPolicy()
)

// validate normalises raw generator output for slot. Advisory length
// violations come back as warnings; empty or contentless payloads are
// ErrValidation.
func (s *Synthesizer) validate(slot Slot, raw string) (string, []string, error) {
	if slot.IsMarkup() {
		payload, err := cleanMarkup(raw)
		return payload, nil, err
	}

	text := cleanText(raw)
	if text == "" {
		return "", nil, fmt.Errorf("%w: empty %s", ErrValidation, slot)
	}
	n := utf8.RuneCountInString(text)
	var warnings []string
	switch slot {
	case SlotTitle:
		if n > s.cfg.TitleMax {
			warnings = append(warnings, fmt.Sprintf("Title is %d characters, advised at most %d", n, s.cfg.TitleMax))
		}
	case SlotMeta:
		if n < s.cfg.MetaMin || n > s.cfg.MetaMax {
			warnings = append(warnings, fmt.Sprintf("Meta description is %d characters, advised %d-%d", n, s.cfg.MetaMin, s.cfg.MetaMax))
		}
	case SlotH1:
		if n > s.cfg.H1Max {
			warnings = append(warnings, fmt.Sprintf("H1 is %d characters, advised at most %d", n, s.cfg.H1Max))
		}
	}
	return text, warnings, nil
}

// cleanText strips markup and quoting and collapses whitespace.
func cleanText(raw string) string {
	s := norm.NFC.String(strings.TrimSpace(raw))
	s = html.UnescapeString(textPolicy.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, "\"'“”")
}

// cleanMarkup sanitises a fragment and requires it to contain at least one
// element or non-blank text node.
func cleanMarkup(raw string) (string, error) {
	s := norm.NFC.String(stripFence(strings.TrimSpace(raw)))
	s = strings.TrimSpace(markupPolicy.Sanitize(s))
	if s == "" {
		return "", fmt.Errorf("%w: empty fragment", ErrValidation)
	}
	nodes, err := dom.ParseFragment(s, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	for _, n := range nodes {
		if n.Type == xhtml.ElementNode || (n.Type == xhtml.TextNode && strings.TrimSpace(n.Data) != "") {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: fragment has no content", ErrValidation)
}

// stripFence removes a surrounding ``` block, which chat models often add.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
