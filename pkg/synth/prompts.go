package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"seo-optimizer/pkg/opportunity"
)

// Slot is one generated part of an opportunity's optimisation.
type Slot int

const (
	SlotTitle Slot = iota + 1
	SlotMeta
	SlotH1
	SlotRelated
	SlotExpansion
	SlotVariants
)

func (s Slot) String() string {
	switch s {
	case SlotTitle:
		return "title"
	case SlotMeta:
		return "meta_description"
	case SlotH1:
		return "h1"
	case SlotRelated:
		return "related_content"
	case SlotExpansion:
		return "content_expansion"
	case SlotVariants:
		return "ctr_variants"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

func (s Slot) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsMarkup reports whether the slot's payload is an HTML fragment.
func (s Slot) IsMarkup() bool {
	return s == SlotRelated || s == SlotExpansion
}

// SlotsFor lists the single-generation slots of a kind. CtrImprovement uses
// one combined variants generation instead.
func SlotsFor(k opportunity.Kind) []Slot {
	switch k {
	case opportunity.RankingBoost:
		return []Slot{SlotTitle, SlotMeta, SlotH1, SlotRelated}
	case opportunity.ContentExpansion:
		return []Slot{SlotExpansion}
	default:
		return nil
	}
}

func buildRequest(opp opportunity.Opportunity, slot Slot, comp CompetitorContext) (Request, error) {
	switch slot {
	case SlotTitle:
		return Request{MaxTokens: 100, Temperature: 0.7, Prompt: fmt.Sprintf(`Analyse these competitor title tags for the keyword %q:
%s

Write one optimised title tag that:
1. Includes the main keyword
2. Is more compelling than the competitors
3. Stays under 60 characters
4. Includes a conversion element (numbers, benefits)

Reply with the title tag only.`, opp.Keyword, jsonList(comp.Titles))}, nil
	case SlotMeta:
		return Request{MaxTokens: 150, Temperature: 0.7, Prompt: fmt.Sprintf(`Analyse these competitor meta descriptions for the keyword %q:
%s

Write one optimised meta description that:
1. Includes the main keyword and variants
2. Has a clear call to action
3. Is between 150 and 160 characters
4. Is more convincing than the competitors
5. Names specific benefits

Reply with the meta description only.`, opp.Keyword, jsonList(comp.Descriptions))}, nil
	case SlotH1:
		return Request{MaxTokens: 80, Temperature: 0.8, Prompt: fmt.Sprintf(`Write an optimised H1 for the keyword %q that:
1. Includes the keyword naturally
2. Is engaging and persuasive
3. Communicates unique value
4. Is written for conversions
5. Has at most 70 characters

Reply with the H1 only.`, opp.Keyword)}, nil
	case SlotRelated:
		return Request{MaxTokens: 400, Temperature: 0.7, Prompt: fmt.Sprintf(`Based on competitor content for %q:
%s

Write one content paragraph (200-300 words) that:
1. Includes the main keyword and related terms
2. Covers aspects the competitors miss
3. Gives users unique value
4. Includes natural calls to action

Reply with the paragraph as HTML only.`, opp.Keyword, jsonList(comp.Topics))}, nil
	case SlotExpansion:
		return Request{MaxTokens: 800, Temperature: 0.7, Prompt: fmt.Sprintf(`For the keyword %q with %d monthly impressions, analyse the content gaps against these competitor topics:
%s

Write a complete section (400-600 words) including:
1. An H2 with the keyword
2. Paragraphs on related subtopics
3. A list of benefits or features
4. Relevant FAQs
5. Calls to action

Format: semantic HTML only.`, opp.Keyword, opp.Impressions, jsonList(comp.Topics))}, nil
	default:
		return Request{}, fmt.Errorf("%w: no prompt for slot %s", ErrValidation, slot)
	}
}

func variantsRequest(opp opportunity.Opportunity) Request {
	return Request{MaxTokens: 500, Temperature: 0.8, Prompt: fmt.Sprintf(`The keyword %q ranks at position %.1f with a CTR of %.2f%%.

Write more compelling title and meta description variants to raise the CTR:
1. A title with numbers or statistics
2. A title with urgency
3. A title with a clear benefit
4. A meta description with a strong call to action
5. A meta description with social proof

Response format:
TITLE_1: [title]
TITLE_2: [title]
TITLE_3: [title]
META_1: [meta description]
META_2: [meta description]`, opp.Keyword, opp.CurrentPosition, opp.CurrentCTR)}
}

// ParseVariants extracts "TITLE_n: ..." and "META_n: ..." lines in order.
func ParseVariants(content string) (titles, metas []string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(tag, "TITLE_"):
			titles = append(titles, value)
		case strings.HasPrefix(tag, "META_"):
			metas = append(metas, value)
		}
	}
	return titles, metas
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}
