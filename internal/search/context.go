package search

import (
	"context"
	"math"
	"unicode/utf8"
)

// DefaultContextBudget is the token budget used when none is given.
const DefaultContextBudget = 4000

// charsPerToken is a rough conversion used for budgeting.
const charsPerToken = 4

// minExcerpt is the smallest remaining budget, in characters, worth an excerpt.
const minExcerpt = 100

const ellipsis = "..."

// ContextMemory is one packed entry.
type ContextMemory struct {
	ID         string  `json:"id"`
	MemoryType string  `json:"memory_type"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	Excerpt    bool    `json:"excerpt,omitempty"`
}

// ContextResult is an assembled context block.
type ContextResult struct {
	Budget   int             `json:"budget"`
	Used     int             `json:"used"`
	Memories []ContextMemory `json:"memories"`
}

// Context ranks records for query and greedily packs them into budget
// tokens. The first record that does not fit is excerpted when enough
// budget remains, and packing stops there.
func (s *Searcher) Context(ctx context.Context, query string, budget int, opts Options) (*ContextResult, error) {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	results, err := s.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return Pack(results, budget), nil
}

// Pack fits ranked results into budget tokens.
func Pack(results []Result, budget int) *ContextResult {
	out := &ContextResult{Budget: budget, Memories: []ContextMemory{}}
	charBudget := budget * charsPerToken
	used := 0

	for _, r := range results {
		entry := ContextMemory{
			ID:         r.Record.ID,
			MemoryType: string(r.Record.MemoryType),
			Content:    r.Record.Content,
			Score:      math.Round(r.Score*1000) / 1000,
		}
		if used+len(entry.Content) <= charBudget {
			out.Memories = append(out.Memories, entry)
			used += len(entry.Content)
			continue
		}
		if remaining := charBudget - used; remaining >= minExcerpt {
			entry.Content = truncateRunes(entry.Content, remaining-len(ellipsis)) + ellipsis
			entry.Excerpt = true
			out.Memories = append(out.Memories, entry)
			used += len(entry.Content)
		}
		break
	}

	out.Used = used / charsPerToken
	return out
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
