// Package topics implements C5, TopicExtractor: turning a crawled page into
// 0..N semantically coherent Topic candidates via a single prompted LLM
// call, with intra-batch near-duplicate coalescing.
package topics

import (
	"context"
	"regexp"
	"strings"

	"ragingest/internal/crawler"
	"ragingest/internal/llmclient"
	"ragingest/internal/observability"
)

// Topic is the transient, LLM-extracted unit a crawled page yields. It is
// never persisted directly; MergeDecider and DocumentCreator/Merger consume
// it by value.
type Topic struct {
	Title     string
	Summary   string
	Content   string
	Keywords  []string
	Category  string
	SourceURL string
	Embedding []float32 // populated lazily by MergeDecider, cached per invocation
}

// maxPagePrefixChars bounds how much of a page's Markdown is sent to the
// LLM for extraction.
const maxPagePrefixChars = 4000

// nearDuplicateRatio is the Levenshtein-similarity threshold above which two
// topic titles within one page's output are coalesced.
const nearDuplicateRatio = 0.9

// nonContentPatterns filters URLs that never carry extractable prose.
var nonContentPatterns = []string{".xml", "opensearch", ".json", ".rss", "sitemap", ".css", ".js"}

// IsContentURL reports whether url is worth sending to the extractor.
func IsContentURL(url string) bool {
	lower := strings.ToLower(url)
	for _, p := range nonContentPatterns {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

type rawTopic struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
}

const systemPrompt = `You extract semantically coherent topics from documentation pages.
Respond with a JSON array of objects, each with fields: title, summary, content, keywords (array of strings), category.
Return only the JSON array, no prose, no markdown code fences.`

// Extractor is C5.
type Extractor struct {
	llm *llmclient.Client
	log observability.Logger
}

// New constructs a TopicExtractor around an LLMClient.
func New(llm *llmclient.Client, log observability.Logger) *Extractor {
	return &Extractor{llm: llm, log: log}
}

// Extract sends a bounded prefix of page.Markdown to the LLM and returns the
// validated, deduplicated Topic list. A malformed or empty result is
// non-fatal: it returns an empty slice and a nil error.
func (e *Extractor) Extract(ctx context.Context, page crawler.Page) ([]Topic, error) {
	if !IsContentURL(page.URL) {
		return nil, nil
	}
	prefix := page.Markdown
	if len(prefix) > maxPagePrefixChars {
		prefix = prefix[:maxPagePrefixChars]
	}
	if strings.TrimSpace(prefix) == "" {
		return nil, nil
	}

	var raw []rawTopic
	if err := e.llm.Generate(ctx, systemPrompt, prefix, &raw); err != nil {
		e.log.Error("topic extraction parse failed, returning empty list", map[string]any{"url": page.URL, "err": err.Error()})
		return nil, nil
	}

	topics := make([]Topic, 0, len(raw))
	for _, r := range raw {
		t := Topic{
			Title:     strings.TrimSpace(stripFence(r.Title)),
			Summary:   strings.TrimSpace(stripFence(r.Summary)),
			Content:   strings.TrimSpace(stripFence(r.Content)),
			Keywords:  r.Keywords,
			Category:  strings.TrimSpace(r.Category),
			SourceURL: page.URL,
		}
		if t.Title == "" || t.Summary == "" || t.Content == "" {
			continue
		}
		topics = append(topics, t)
	}

	return Dedup(topics), nil
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\n?|```$")

func stripFence(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}

// Dedup coalesces topics whose normalized titles are near-identical
// (Levenshtein ratio >= nearDuplicateRatio), concatenating distinct
// content. O(N^2) is acceptable: N is the topic count of a single page.
func Dedup(in []Topic) []Topic {
	var out []Topic
	for _, t := range in {
		merged := false
		for i := range out {
			if similarity(normalizeTitle(out[i].Title), normalizeTitle(t.Title)) >= nearDuplicateRatio {
				if !strings.Contains(out[i].Content, t.Content) {
					out[i].Content = out[i].Content + "\n\n" + t.Content
				}
				out[i].Keywords = mergeKeywords(out[i].Keywords, t.Keywords)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, t)
		}
	}
	return out
}

func normalizeTitle(s string) string {
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

func mergeKeywords(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range a {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range b {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// similarity returns 1 - levenshteinDistance/maxLen, a ratio in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
		matrix[i][0] = i
	}
	for j := 0; j <= len(s2); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			matrix[i][j] = min3(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}
	return matrix[len(s1)][len(s2)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
