package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestEffortJSONObject(t *testing.T) {
	t.Parallel()

	parsed := BestEffort(`{"plan": ["a", "b"], "risk": "low"}`)
	require.NotNil(t, parsed.Object)
	assert.Equal(t, "low", parsed.Object["risk"])
}

func TestBestEffortFencedJSON(t *testing.T) {
	t.Parallel()

	parsed := BestEffort("Here is the plan:\n```json\n{\"tasks\": 2}\n```\nDone.")
	require.NotNil(t, parsed.Object)
	assert.EqualValues(t, 2, parsed.Object["tasks"])
}

func TestBestEffortBullets(t *testing.T) {
	t.Parallel()

	parsed := BestEffort("Summary first.\n- add endpoint\n* pin versions\n2) write tests\nplain line")
	assert.Nil(t, parsed.Object)
	assert.Equal(t, []string{"add endpoint", "pin versions", "write tests"}, parsed.Bullets)
	assert.Contains(t, parsed.Raw, "Summary first.")
}

func TestBestEffortRawFallback(t *testing.T) {
	t.Parallel()

	parsed := BestEffort("  just prose, nothing structured  ")
	assert.Nil(t, parsed.Object)
	assert.Empty(t, parsed.Bullets)
	assert.Equal(t, "just prose, nothing structured", parsed.Text())
}

func TestBestEffortInvalidJSONDegrades(t *testing.T) {
	t.Parallel()

	parsed := BestEffort("{not json at all")
	assert.Nil(t, parsed.Object)
	assert.Equal(t, "{not json at all", parsed.Raw)
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	out := dedupe([]string{" a ", "b", "a", "", "b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, out)
}
