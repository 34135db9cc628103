package directive

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_Classes(t *testing.T) {
	for _, op := range []Operation{TitleSet, MetaSet, H1Set} {
		assert.True(t, op.IsSet(), op.String())
		assert.False(t, op.IsInsert(), op.String())
	}
	for _, op := range []Operation{InsertBefore, InsertAfter, Append} {
		assert.True(t, op.IsInsert(), op.String())
		assert.False(t, op.IsSet(), op.String())
	}
	assert.False(t, Operation(0).Valid())
	assert.False(t, Operation(99).Valid())
}

func TestEditDirective_JSONUsesOperationNames(t *testing.T) {
	d := EditDirective{TargetDocument: "index.html", Operation: InsertAfter, Selector: ".services", Payload: "<p>x</p>"}

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"operation":"insert_after"`)

	var back EditDirective
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)

	assert.Error(t, json.Unmarshal([]byte(`{"operation":"replace_all"}`), &back))
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{Outcome: Applied{DiffSummary: "Title: \"a\" → \"b\""}},
		{Outcome: Rejected{Reason: "document not found"}},
		{Outcome: Applied{}},
	}

	assert.Equal(t, Summary{Applied: 2, Errors: 1}, Summarize(results))
	assert.Equal(t, "rejected: document not found", results[1].Change())
	assert.Equal(t, "Title: \"a\" → \"b\"", results[0].Change())
}
