package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsContentURL(t *testing.T) {
	assert.False(t, IsContentURL("https://example.com/opensearch.xml"))
	assert.False(t, IsContentURL("https://example.com/sitemap.xml"))
	assert.True(t, IsContentURL("https://example.com/docs/guide"))
}

func TestDedup_CoalescesNearIdenticalTitles(t *testing.T) {
	in := []Topic{
		{Title: "Getting Started", Content: "part one"},
		{Title: "getting   started", Content: "part two"},
		{Title: "Unrelated Topic", Content: "part three"},
	}
	out := Dedup(in)
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Content, "part one")
	assert.Contains(t, out[0].Content, "part two")
}

func TestDedup_KeepsDistinctTitles(t *testing.T) {
	in := []Topic{
		{Title: "Alpha", Content: "a"},
		{Title: "Beta", Content: "b"},
	}
	out := Dedup(in)
	assert.Len(t, out, 2)
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, levenshteinDistance("hello", "hello"))
	assert.Equal(t, 1, levenshteinDistance("hello", "hellos"))
	assert.Equal(t, 1, levenshteinDistance("hello", "hallo"))
	assert.Equal(t, 5, levenshteinDistance("", "hello"))
}

func TestSimilarity_Ratio(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("abc", "abc"), 1e-9)
	assert.Greater(t, similarity("getting started", "getting  started"), 0.9)
}
