// Package opportunity turns per-keyword search performance into typed,
// prioritised optimisation opportunities.
package opportunity

import "fmt"

// PerformanceSignal is one keyword's search performance for a run.
// CTR is a percentage in [0,100].
type PerformanceSignal struct {
	Position    float64 `json:"position"`
	Impressions int     `json:"impressions"`
	Clicks      int     `json:"clicks"`
	CTR         float64 `json:"ctr"`
}

// Validate checks the documented ranges.
func (s PerformanceSignal) Validate() error {
	switch {
	case s.Position < 1:
		return fmt.Errorf("position %.2f below 1", s.Position)
	case s.Impressions < 0:
		return fmt.Errorf("negative impressions %d", s.Impressions)
	case s.Clicks < 0:
		return fmt.Errorf("negative clicks %d", s.Clicks)
	case s.CTR < 0 || s.CTR > 100:
		return fmt.Errorf("ctr %.2f outside [0,100]", s.CTR)
	}
	return nil
}

// Kind tags the Opportunity variant.
type Kind int

const (
	RankingBoost Kind = iota + 1
	CtrImprovement
	ContentExpansion
)

func (k Kind) String() string {
	switch k {
	case RankingBoost:
		return "ranking_boost"
	case CtrImprovement:
		return "ctr_improvement"
	case ContentExpansion:
		return "content_expansion"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Priority string

const (
	High   Priority = "high"
	Medium Priority = "medium"
	Low    Priority = "low"
)

// Weight orders priorities: high=3, medium=2, low=1, anything else 0.
func (p Priority) Weight() int {
	switch p {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// Opportunity is an immutable value. Fields that do not apply to Kind are
// zero: TargetPosition is set for RankingBoost, CurrentCTR/TargetCTR for
// CtrImprovement.
type Opportunity struct {
	Kind            Kind     `json:"type"`
	Keyword         string   `json:"keyword"`
	Priority        Priority `json:"priority"`
	CurrentPosition float64  `json:"current_position"`
	TargetPosition  float64  `json:"target_position,omitempty"`
	Impressions     int      `json:"impressions,omitempty"`
	CurrentCTR      float64  `json:"current_ctr,omitempty"`
	TargetCTR       float64  `json:"target_ctr,omitempty"`
}

func (o Opportunity) String() string {
	return fmt.Sprintf("%s(%q, pos=%.1f, %s)", o.Kind, o.Keyword, o.CurrentPosition, o.Priority)
}
