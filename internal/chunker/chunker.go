// Package chunker implements C4: hierarchical chunking of a document's
// rewritten content into retrieval-sized fragments. The hierarchy has three
// levels — document, section, proposition — but only the leaf
// (proposition) level is persisted as rows; document and section splits
// exist purely to keep each proposition coherent and contiguous.
package chunker

import (
	"regexp"
	"strings"
)

// Piece is one leaf-level (proposition) fragment ready for embedding and
// storage. Position is assigned contiguously by Chunk, starting at 0.
type Piece struct {
	Position   int
	Content    string
	TokenCount int
}

// Options tunes the target proposition size. Zero values fall back to
// spec-reasonable defaults.
type Options struct {
	TargetTokens int // approximate tokens per proposition, default 200
	OverlapWords int // word overlap carried between adjacent propositions, default 0
}

const defaultTargetTokens = 200

// wordsPerToken is the rough heuristic used throughout this pipeline to
// convert a token budget into a word/character budget without invoking a
// real tokenizer.
const wordsPerToken = 0.75

var headingRe = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)

// Chunk splits content into document -> section -> proposition levels and
// returns the flattened, contiguously positioned proposition list.
func Chunk(content string, opt Options) []Piece {
	if opt.TargetTokens <= 0 {
		opt.TargetTokens = defaultTargetTokens
	}
	sections := splitSections(content)
	if len(sections) == 0 {
		sections = []string{content}
	}

	var out []Piece
	pos := 0
	for _, section := range sections {
		for _, prop := range splitPropositions(section, opt) {
			prop = strings.TrimSpace(prop)
			if prop == "" {
				continue
			}
			out = append(out, Piece{
				Position:   pos,
				Content:    prop,
				TokenCount: estimateTokens(prop),
			})
			pos++
		}
	}
	return out
}

// splitSections breaks content at Markdown heading boundaries, keeping each
// heading attached to the text that follows it; blank lines do not start a
// new section. This is the "section" level of the hierarchy.
func splitSections(content string) []string {
	lines := strings.Split(content, "\n")
	var sections []string
	var buf strings.Builder
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			sections = append(sections, s)
		}
		buf.Reset()
	}
	for _, line := range lines {
		if headingRe.MatchString(line) && buf.Len() > 0 {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(line)
	}
	flush()
	return sections
}

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

// splitPropositions breaks a section into proposition-sized groups of
// sentences, the leaf level of the hierarchy. A section shorter than the
// target is kept whole.
func splitPropositions(section string, opt Options) []string {
	targetWords := int(float64(opt.TargetTokens) * wordsPerToken)
	if targetWords < 8 {
		targetWords = 8
	}
	if wordCount(section) <= targetWords {
		return []string{section}
	}

	sentences := splitSentences(section)
	var out []string
	var cur []string
	curWords := 0
	for _, sentence := range sentences {
		w := wordCount(sentence)
		if curWords > 0 && curWords+w > targetWords {
			out = append(out, strings.Join(cur, " "))
			if opt.OverlapWords > 0 && len(cur) > 0 {
				cur = tailWords(cur, opt.OverlapWords)
				curWords = wordCount(strings.Join(cur, " "))
			} else {
				cur = nil
				curWords = 0
			}
		}
		cur = append(cur, sentence)
		curWords += w
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

func splitSentences(text string) []string {
	idx := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(idx) == 0 {
		return []string{text}
	}
	var out []string
	start := 0
	for _, m := range idx {
		out = append(out, strings.TrimSpace(text[start:m[1]]))
		start = m[1]
	}
	if start < len(text) {
		if tail := strings.TrimSpace(text[start:]); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}

func wordCount(s string) int { return len(strings.Fields(s)) }

func tailWords(parts []string, n int) []string {
	joined := strings.Join(parts, " ")
	words := strings.Fields(joined)
	if len(words) <= n {
		return []string{joined}
	}
	return []string{strings.Join(words[len(words)-n:], " ")}
}

// estimateTokens approximates a token count from word count, the same
// heuristic used in reverse by splitPropositions.
func estimateTokens(s string) int {
	return int(float64(wordCount(s)) / wordsPerToken)
}
