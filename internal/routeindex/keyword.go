package routeindex

import (
	"sort"
	"strings"

	"github.com/arcweave/skillkernel/pkg/kernel"
)

// scoreKeyword ranks rows against query using the fixed weighted-field
// boosts from spec.md §4.2: tool_name=5, intents=4, keywords=3,
// description=1. category is never matched against the query. This is
// original scoring code (see DESIGN.md) — no teacher analog exists for a
// weighted multi-field keyword score, only plain substring search.
func scoreKeyword(query string, rows []kernel.RoutingRow) []SearchResult {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	var results []SearchResult
	for _, row := range rows {
		score := fieldScore(terms, row.ToolName, BoostToolName) +
			fieldScoreAll(terms, row.Intents, BoostIntents) +
			fieldScoreAll(terms, row.Keywords, BoostKeywords) +
			fieldScore(terms, row.Description, BoostDescription)
		if score > 0 {
			results = append(results, SearchResult{ID: row.ID, Score: score, Row: row})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

func fieldScore(terms []string, field string, boost float64) float64 {
	haystack := strings.ToLower(field)
	var score float64
	for _, term := range terms {
		if term != "" && strings.Contains(haystack, term) {
			score += boost
		}
	}
	return score
}

func fieldScoreAll(terms []string, values []string, boost float64) float64 {
	var score float64
	for _, v := range values {
		score += fieldScore(terms, v, boost)
	}
	return score
}
