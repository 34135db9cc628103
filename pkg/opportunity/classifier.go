package opportunity

import (
	"fmt"
	"math"
)

// Thresholds parameterises the three variant predicates.
//
//	RankingBoost:     RankingMin < position <= RankingMax && impressions > RankingImpressions
//	CtrImprovement:   position <= CtrMaxPosition && ctr < CtrBelow
//	ContentExpansion: position > ExpansionMin && impressions > ExpansionImpressions
type Thresholds struct {
	RankingMin           float64
	RankingMax           float64
	RankingImpressions   int
	RankingTarget        float64
	CtrMaxPosition       float64
	CtrBelow             float64
	CtrTarget            float64
	ExpansionMin         float64
	ExpansionImpressions int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RankingMin:           10,
		RankingMax:           20,
		RankingImpressions:   100,
		RankingTarget:        5,
		CtrMaxPosition:       10,
		CtrBelow:             3,
		CtrTarget:            5,
		ExpansionMin:         20,
		ExpansionImpressions: 500,
	}
}

// CheckExclusive verifies the position bands of the three predicates are
// pairwise disjoint, so that at most one variant fires per keyword.
func CheckExclusive(t Thresholds) error {
	type band struct {
		name   string
		lo, hi float64 // (lo, hi]
	}
	bands := []band{
		{RankingBoost.String(), t.RankingMin, t.RankingMax},
		{CtrImprovement.String(), math.Inf(-1), t.CtrMaxPosition},
		{ContentExpansion.String(), t.ExpansionMin, math.Inf(1)},
	}
	for i := range bands {
		if bands[i].lo >= bands[i].hi {
			return fmt.Errorf("%s band (%v, %v] is empty", bands[i].name, bands[i].lo, bands[i].hi)
		}
		for j := i + 1; j < len(bands); j++ {
			a, b := bands[i], bands[j]
			if math.Max(a.lo, b.lo) < math.Min(a.hi, b.hi) {
				return fmt.Errorf("%s band (%v, %v] overlaps %s band (%v, %v]",
					a.name, a.lo, a.hi, b.name, b.lo, b.hi)
			}
		}
	}
	return nil
}

type Classifier struct {
	t Thresholds
}

// NewClassifier fails when the thresholds allow overlapping variants.
func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := CheckExclusive(t); err != nil {
		return nil, fmt.Errorf("opportunity thresholds: %w", err)
	}
	return &Classifier{t: t}, nil
}

// Classify evaluates every predicate independently for each keyword.
// Output order follows map iteration and is therefore unspecified; pass
// the result through Rank for a stable order.
func (c *Classifier) Classify(signals map[string]PerformanceSignal) []Opportunity {
	var out []Opportunity
	for keyword, s := range signals {
		out = append(out, c.ClassifyOne(keyword, s)...)
	}
	return out
}

// ClassifyOne returns the opportunities a single signal produces.
func (c *Classifier) ClassifyOne(keyword string, s PerformanceSignal) []Opportunity {
	t := c.t
	var out []Opportunity

	if s.Position > t.RankingMin && s.Position <= t.RankingMax && s.Impressions > t.RankingImpressions {
		out = append(out, Opportunity{
			Kind:            RankingBoost,
			Keyword:         keyword,
			Priority:        High,
			CurrentPosition: s.Position,
			TargetPosition:  t.RankingTarget,
			Impressions:     s.Impressions,
			CurrentCTR:      s.CTR,
		})
	}

	if s.Position <= t.CtrMaxPosition && s.CTR < t.CtrBelow {
		out = append(out, Opportunity{
			Kind:            CtrImprovement,
			Keyword:         keyword,
			Priority:        Medium,
			CurrentPosition: s.Position,
			CurrentCTR:      s.CTR,
			TargetCTR:       t.CtrTarget,
		})
	}

	if s.Position > t.ExpansionMin && s.Impressions > t.ExpansionImpressions {
		out = append(out, Opportunity{
			Kind:            ContentExpansion,
			Keyword:         keyword,
			Priority:        High,
			CurrentPosition: s.Position,
			Impressions:     s.Impressions,
		})
	}

	return out
}
