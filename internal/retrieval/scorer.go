// Package retrieval implements the hybrid sparse+dense candidate scorer
// used by the Graph Tool Agent's search tools, and the deterministic
// embedding fallback that backs it.
//
// Formulas are ported exactly from original_source's
// domain/retrieval/scorer.py. The top-N/gap cutoff and the pg_trgm fast
// path have no verbatim source in the retrieved pack (hybrid_engine.py only
// carries score_records/score_attributes) — they're built directly from
// spec.md §4.1's prose contract and test_hybrid_scoring.py's input/output
// pairs.
package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// DefaultWeights are used whenever the caller's weights sum to zero or less.
const (
	DefaultWeightSparse = 0.45
	DefaultWeightDense  = 0.55
)

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
var whitespace = regexp.MustCompile(`\s+`)

// PreprocessQuery lowercases, strips punctuation, and collapses whitespace —
// applied identically to the query and to every document's search text
// before tokenizing, per spec.md §4.1.
func PreprocessQuery(s string) string {
	lowered := strings.ToLower(s)
	stripped := punctuation.ReplaceAllString(lowered, " ")
	collapsed := whitespace.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(collapsed)
}

// CosineSimilarity returns the cosine of two vectors, coercing 0-length (or
// mismatched/zero-norm) vectors to 0 rather than dividing by zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	// Account for any trailing elements of the longer vector in the norms.
	for i := n; i < len(a); i++ {
		na += a[i] * a[i]
	}
	for i := n; i < len(b); i++ {
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SparseScore is the token-intersection score: |intersection| / max(|query
// tokens|, 1). query and doc must already be preprocessed with PreprocessQuery.
func SparseScore(query, doc string) float64 {
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return 0
	}
	dTokens := tokenSet(strings.ToLower(doc))

	hits := 0
	for t := range qTokens {
		if dTokens[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// HybridScore blends sparse and dense scores. If the weights sum to zero or
// less, default weights are substituted before normalizing.
func HybridScore(sparse, dense, wSparse, wDense float64) float64 {
	ws := math.Max(wSparse, 0)
	wd := math.Max(wDense, 0)
	total := ws + wd
	if total <= 0 {
		ws, wd = DefaultWeightSparse, DefaultWeightDense
		total = 1.0
	}
	ws /= total
	wd /= total
	return ws*sparse + wd*dense
}

// Record is a scorable candidate: a stable code/id, the text used for sparse
// matching, and an optional dense embedding.
type Record struct {
	Code       string
	SearchText string
	Embedding  []float64
}

// Scored pairs a Record with its computed score, rounded to 6 decimals.
type Scored struct {
	Record
	Score float64
}

// ScoreRecords computes the hybrid score for every record against query,
// optionally overriding the computed sparse score per-record (index-aligned
// with records) — used for the pg_trgm fast path's precomputed scores.
// Weights default per HybridScore when non-positive. Results are sorted
// descending by score with ties kept in input order (Go's sort.SliceStable).
func ScoreRecords(query string, records []Record, queryEmbedding []float64, wSparse, wDense float64, sparseOverrides []float64) []Scored {
	normalizedQuery := PreprocessQuery(query)

	out := make([]Scored, len(records))
	for i, rec := range records {
		sparse := SparseScore(normalizedQuery, PreprocessQuery(rec.SearchText))
		if sparseOverrides != nil && i < len(sparseOverrides) {
			sparse = math.Max(sparseOverrides[i], 0)
		}
		dense := CosineSimilarity(queryEmbedding, rec.Embedding)
		score := round6(HybridScore(sparse, dense, wSparse, wDense))
		out[i] = Scored{Record: rec, Score: score}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// ApplyTopNAndGap walks the (already descending-sorted) list, stopping
// before the first candidate whose score drops from the previous one by at
// least gap (when gap > 0). Always emits at least one result from a
// non-empty list, and never more than topN.
func ApplyTopNAndGap(scored []Scored, topN int, scoreGap float64) []Scored {
	if len(scored) == 0 {
		return nil
	}
	if topN <= 0 {
		topN = len(scored)
	}

	out := []Scored{scored[0]}
	for i := 1; i < len(scored) && len(out) < topN; i++ {
		prev := scored[i-1].Score
		cur := scored[i].Score
		if scoreGap > 0 && prev-cur >= scoreGap {
			break
		}
		out = append(out, scored[i])
	}
	return out
}
