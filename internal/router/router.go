// Package router implements the Router (C4): query normalization, intent
// dispatch, reciprocal rank fusion, metadata-alignment re-rank, and the
// confidence gate that produces a kernel.RoutePlan.
//
// Grounded on the teacher's internal/agent's retrieval-then-rank shape
// (vector search followed by a re-rank pass) generalized to the spec's
// exact hybrid fusion rule; RRF itself has no teacher analog (the teacher
// only ever queries one backend at a time) so it is implemented directly
// from the fixed formula in spec.md §4.4.
package router

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/arcweave/skillkernel/internal/observability"
	"github.com/arcweave/skillkernel/internal/routeindex"
	"github.com/arcweave/skillkernel/pkg/kernel"
)

// RRFConstant is the fixed k in score(id) = Σ 1/(k + rank_i(id)).
const RRFConstant = 60

// MetadataBoostCap is the maximum bonus metadata-alignment re-rank may add.
const MetadataBoostCap = 0.15

// Thresholds configures the confidence gate. All values come from
// configuration; there is no hard-coded default beyond what NewThresholds
// returns for local/dev use.
type Thresholds struct {
	HighScore float64
	LowScore  float64
	HighGap   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{HighScore: 0.7, LowScore: 0.3, HighGap: 0.2}
}

// Limits configures §4.4 rule 6's budgeting.
type Limits struct {
	CandidateLimit int
	MaxSources     int
	RowsPerSource  int
}

func DefaultLimits() Limits {
	return Limits{CandidateLimit: 20, MaxSources: 2, RowsPerSource: 20}
}

// Router owns the routing index and configuration needed to answer route().
type Router struct {
	store      routeindex.Store
	embedder   routeindex.Embedder
	typos      map[string]string
	thresholds Thresholds
	limits     Limits
	metrics    *observability.Metrics
}

type Option func(*Router)

func WithTypoMap(m map[string]string) Option { return func(r *Router) { r.typos = m } }
func WithThresholds(t Thresholds) Option      { return func(r *Router) { r.thresholds = t } }
func WithLimits(l Limits) Option              { return func(r *Router) { r.limits = l } }

// WithMetrics records a skillkernel_route_requests_total increment and a
// duration observation, labeled by the selected mode, for every Route call.
func WithMetrics(m *observability.Metrics) Option { return func(r *Router) { r.metrics = m } }

func New(store routeindex.Store, embedder routeindex.Embedder, opts ...Option) *Router {
	r := &Router{
		store:      store,
		embedder:   embedder,
		thresholds: DefaultThresholds(),
		limits:     DefaultLimits(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var urlRe = regexp.MustCompile(`https?://[^\s]+`)

// Normalize applies spec.md §4.4 rule 1: typo substitution, then URL
// collapsing to a short token that preserves intent without diluting
// embedding/keyword signal with path noise.
func Normalize(query string, typos map[string]string) string {
	words := strings.Fields(query)
	for i, w := range words {
		lower := strings.ToLower(w)
		if repl, ok := typos[lower]; ok {
			words[i] = repl
		}
	}
	query = strings.Join(words, " ")

	query = urlRe.ReplaceAllStringFunc(query, func(u string) string {
		if strings.Contains(strings.ToLower(u), "github") {
			return " github url "
		}
		return " url "
	})

	return strings.Join(strings.Fields(query), " ")
}

// Route answers route(query, intent, limit, context) -> RoutePlan.
func (r *Router) Route(ctx context.Context, query string, intent kernel.IntentMode, limit int) (*kernel.RoutePlan, error) {
	start := time.Now()
	plan, err := r.route(ctx, query, intent, limit)
	if r.metrics != nil {
		mode := string(intent)
		if plan != nil {
			mode = string(plan.SelectedMode)
		}
		r.metrics.RecordRouteRequest(mode, time.Since(start).Seconds())
	}
	return plan, err
}

func (r *Router) route(ctx context.Context, query string, intent kernel.IntentMode, limit int) (*kernel.RoutePlan, error) {
	if intent == "" {
		intent = kernel.IntentHybrid
	}
	normalized := Normalize(query, r.typos)

	k := limit
	if k <= 0 {
		k = r.limits.CandidateLimit
	}
	searchK := k
	if searchK < r.limits.RowsPerSource {
		searchK = r.limits.RowsPerSource
	}

	var keywordResults, vectorResults []routeindex.SearchResult
	var err error

	if intent == kernel.IntentExact || intent == kernel.IntentHybrid {
		keywordResults, err = r.store.SearchKeyword(ctx, normalized, searchK)
		if err != nil {
			return nil, err
		}
	}
	if intent == kernel.IntentSemantic || intent == kernel.IntentHybrid {
		if r.embedder != nil {
			vecs, embedErr := r.embedder.Embed(ctx, []string{normalized})
			if embedErr == nil && len(vecs) == 1 {
				vectorResults, err = r.store.SearchVector(ctx, vecs[0], searchK)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	selectedMode := intent
	reason := "requested mode honored"
	var fused []routeindex.SearchResult

	switch intent {
	case kernel.IntentExact:
		fused = keywordResults
	case kernel.IntentSemantic:
		fused = vectorResults
	default: // hybrid
		if len(keywordResults) == 0 && len(vectorResults) > 0 {
			selectedMode = kernel.IntentSemantic
			reason = "keyword side empty, downgraded to vector_only"
			fused = vectorResults
		} else if len(vectorResults) == 0 && len(keywordResults) > 0 {
			selectedMode = kernel.IntentExact
			reason = "vector side empty, downgraded to keyword_only"
			fused = keywordResults
		} else {
			fused = fuseRRF(vectorResults, keywordResults)
			reason = "hybrid fusion"
		}
	}

	fused = reRankByMetadata(normalized, fused)

	level, score := confidenceLevel(fused, r.thresholds)

	candidates := budget(fused, r.limits)

	plan := &kernel.RoutePlan{
		RequestedMode:        intent,
		SelectedMode:         selectedMode,
		Reason:               reason,
		GraphHitCount:        len(fused),
		GraphConfidenceScore: score,
		GraphConfidenceLevel: level,
		CandidateLimit:       r.limits.CandidateLimit,
		MaxSources:           r.limits.MaxSources,
		RowsPerSource:        r.limits.RowsPerSource,
		Candidates:           candidates,
	}
	return plan, nil
}

// fuseRRF implements spec.md §4.4 rule 3 exactly: score(id) = Σ 1/(k +
// rank_i(id)) across the two input rankings, k=60, ties broken by stable
// insertion order (vector list first, then keyword list).
func fuseRRF(lists ...[]routeindex.SearchResult) []routeindex.SearchResult {
	scores := make(map[string]float64)
	rows := make(map[string]kernel.RoutingRow)
	var order []string

	for _, list := range lists {
		for rank, res := range list {
			if _, seen := rows[res.ID]; !seen {
				order = append(order, res.ID)
				rows[res.ID] = res.Row
			}
			scores[res.ID] += 1.0 / float64(RRFConstant+rank+1)
		}
	}

	out := make([]routeindex.SearchResult, len(order))
	for i, id := range order {
		out[i] = routeindex.SearchResult{ID: id, Score: scores[id], Row: rows[id]}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

// reRankByMetadata implements spec.md §4.4 rule 4: a deterministic,
// case-insensitive whole-word boost capped at +0.15 per row.
func reRankByMetadata(normalizedQuery string, results []routeindex.SearchResult) []routeindex.SearchResult {
	terms := make(map[string]bool)
	for _, t := range wordRe.FindAllString(strings.ToLower(normalizedQuery), -1) {
		terms[t] = true
	}
	if len(terms) == 0 {
		return results
	}

	const perTermBoost = 0.05
	for i := range results {
		fields := append([]string{results[i].Row.Description, results[i].Row.Category}, results[i].Row.Keywords...)
		fields = append(fields, results[i].Row.Intents...)

		var boost float64
		for _, field := range fields {
			for _, w := range wordRe.FindAllString(strings.ToLower(field), -1) {
				if terms[w] {
					boost += perTermBoost
				}
			}
		}
		if boost > MetadataBoostCap {
			boost = MetadataBoostCap
		}
		results[i].Score += boost
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func confidenceLevel(results []routeindex.SearchResult, t Thresholds) (kernel.ConfidenceLevel, float64) {
	if len(results) == 0 {
		return kernel.ConfidenceNone, 0
	}
	top := results[0].Score
	if top < t.LowScore {
		return kernel.ConfidenceLow, top
	}
	if len(results) == 1 {
		if top > t.HighScore {
			return kernel.ConfidenceHigh, top
		}
		return kernel.ConfidenceMedium, top
	}
	gap := top - results[1].Score
	if top > t.HighScore && gap >= t.HighGap {
		return kernel.ConfidenceHigh, top
	}
	return kernel.ConfidenceMedium, top
}

// budget implements spec.md §4.4 rule 6: cap candidates, distinct sources
// (skill names), and rows per source.
func budget(results []routeindex.SearchResult, l Limits) []kernel.Candidate {
	perSource := make(map[string]int)
	sources := make(map[string]bool)
	var out []kernel.Candidate

	for _, r := range results {
		if len(out) >= l.CandidateLimit {
			break
		}
		source := sourceOf(r.ID)
		if !sources[source] && len(sources) >= l.MaxSources {
			continue
		}
		if perSource[source] >= l.RowsPerSource {
			continue
		}
		sources[source] = true
		perSource[source]++
		out = append(out, kernel.Candidate{ID: r.ID, Score: r.Score, Row: r.Row})
	}
	return out
}

func sourceOf(id string) string {
	if i := strings.IndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return id
}
