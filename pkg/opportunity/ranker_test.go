package opportunity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRank_HighBeforeLow(t *testing.T) {
	high := Opportunity{Kind: RankingBoost, Keyword: "a", Priority: High}
	low := Opportunity{Kind: CtrImprovement, Keyword: "b", Priority: Low}

	assert.Equal(t, []Opportunity{high, low}, Rank([]Opportunity{low, high}))
	assert.Equal(t, []Opportunity{high, low}, Rank([]Opportunity{high, low}))
}

func TestRank_StableForEqualPriority(t *testing.T) {
	in := []Opportunity{
		{Keyword: "m1", Priority: Medium},
		{Keyword: "h1", Priority: High},
		{Keyword: "m2", Priority: Medium},
		{Keyword: "l1", Priority: Low},
		{Keyword: "h2", Priority: High},
		{Keyword: "m3", Priority: Medium},
		{Keyword: "h3", Priority: High},
	}

	got := Rank(in)

	var order []string
	for _, o := range got {
		order = append(order, o.Keyword)
	}
	assert.Equal(t, []string{"h1", "h2", "h3", "m1", "m2", "m3", "l1"}, order)
	assert.Equal(t, "m1", in[0].Keyword, "input must not be reordered")
}

func TestRank_Empty(t *testing.T) {
	assert.Empty(t, Rank(nil))
}

func TestCountByKind(t *testing.T) {
	counts := CountByKind([]Opportunity{
		{Kind: RankingBoost}, {Kind: RankingBoost}, {Kind: ContentExpansion},
	})
	assert.Equal(t, 2, counts[RankingBoost])
	assert.Equal(t, 1, counts[ContentExpansion])
	assert.Zero(t, counts[CtrImprovement])
}
