package upstream

import (
	"slices"
	"strings"
)

// MaxSearchResults is how many results SearchTools returns.
const MaxSearchResults = 10

// SearchTools scores the cached tools of every enabled server against query.
// It never connects or refreshes.
func (m *Manager) SearchTools(query string) []SearchResult {
	return SearchCatalog(m.CachedTools(), query, MaxSearchResults)
}

// SearchCatalog scores tools against query, drops zero scores and returns at
// most limit results by descending score. Ties keep catalog order.
func SearchCatalog(tools []ToolInfo, query string, limit int) []SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	words := strings.Fields(q)

	var results []SearchResult
	for _, t := range tools {
		if score := scoreTool(t, q, words); score > 0 {
			results = append(results, SearchResult{Tool: t, Score: score})
		}
	}

	slices.SortStableFunc(results, func(a, b SearchResult) int {
		return b.Score - a.Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// ScoreTool returns the relevance of t for query.
func ScoreTool(t ToolInfo, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	return scoreTool(t, q, strings.Fields(q))
}

// scoreTool expects q and words already lowercased.
func scoreTool(t ToolInfo, q string, words []string) int {
	name := strings.ToLower(t.Name)
	desc := strings.ToLower(t.Description)

	score := 0
	if name == q {
		score += 10
	}
	if strings.Contains(name, q) {
		score += 5
	}
	for _, w := range words {
		if strings.Contains(name, w) {
			score += 2
		}
		if strings.Contains(desc, w) {
			score++
		}
	}
	return score
}
