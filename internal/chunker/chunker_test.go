package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genSentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("This is sentence number filler words here for length. ")
	}
	return b.String()
}

func TestChunk_ContiguousPositions(t *testing.T) {
	content := "# Title\n\n" + genSentences(80) + "\n\n## Next\n\n" + genSentences(80)
	pieces := Chunk(content, Options{TargetTokens: 50})
	require.NotEmpty(t, pieces)
	for i, p := range pieces {
		assert.Equal(t, i, p.Position)
		assert.NotEmpty(t, p.Content)
	}
}

func TestChunk_ShortContentSingleProposition(t *testing.T) {
	pieces := Chunk("Just one short paragraph.", Options{TargetTokens: 200})
	require.Len(t, pieces, 1)
	assert.Equal(t, 0, pieces[0].Position)
}

func TestChunk_RespectsHeadingBoundaries(t *testing.T) {
	content := "# A\n\n" + genSentences(60) + "\n\n# B\n\n" + genSentences(60)
	pieces := Chunk(content, Options{TargetTokens: 40})
	require.NotEmpty(t, pieces)
	startsA, startsB := 0, 0
	for _, p := range pieces {
		assert.False(t, strings.Contains(p.Content, "# A") && strings.Contains(p.Content, "# B"))
		if strings.HasPrefix(p.Content, "# A") {
			startsA++
		}
		if strings.HasPrefix(p.Content, "# B") {
			startsB++
		}
	}
	assert.Equal(t, 1, startsA)
	assert.Equal(t, 1, startsB)
}

func TestChunk_OverlapCarriesWords(t *testing.T) {
	content := genSentences(100)
	pieces := Chunk(content, Options{TargetTokens: 30, OverlapWords: 5})
	require.GreaterOrEqual(t, len(pieces), 2)
	words := strings.Fields(pieces[0].Content)
	tail := strings.Join(words[len(words)-5:], " ")
	assert.True(t, strings.HasPrefix(pieces[1].Content, tail))
}
