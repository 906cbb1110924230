package retrieval

import "testing"

func TestApplyTopNAndGapStopsOnScoreDrop(t *testing.T) {
	scored := []Scored{
		{Record: Record{Code: "1"}, Score: 0.93},
		{Record: Record{Code: "2"}, Score: 0.91},
		{Record: Record{Code: "3"}, Score: 0.52},
		{Record: Record{Code: "4"}, Score: 0.51},
	}
	got := ApplyTopNAndGap(scored, 10, 0.2)
	assertCodes(t, got, []string{"1", "2"})
}

func TestApplyTopNAndGapRespectsTopNLimit(t *testing.T) {
	scored := []Scored{
		{Record: Record{Code: "1"}, Score: 0.93},
		{Record: Record{Code: "2"}, Score: 0.91},
		{Record: Record{Code: "3"}, Score: 0.89},
	}
	got := ApplyTopNAndGap(scored, 2, 1.0)
	assertCodes(t, got, []string{"1", "2"})
}

func TestApplyTopNAndGapAlwaysEmitsOne(t *testing.T) {
	scored := []Scored{{Record: Record{Code: "1"}, Score: 0.1}}
	got := ApplyTopNAndGap(scored, 10, 0.01)
	assertCodes(t, got, []string{"1"})
}

func TestApplyTopNAndGapEmptyInput(t *testing.T) {
	if got := ApplyTopNAndGap(nil, 10, 0.2); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestHybridScoreDefaultsOnNonPositiveWeights(t *testing.T) {
	got := HybridScore(1.0, 0.0, 0, 0)
	want := DefaultWeightSparse * 1.0
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSparseOverridesTakeEffect(t *testing.T) {
	records := []Record{
		{Code: "1", SearchText: "foo"},
		{Code: "2", SearchText: "bar"},
	}
	scored := ScoreRecords("identity", records, nil, 1.0, 0.0, []float64{0.1, 0.9})
	if scored[0].Code != "2" {
		t.Fatalf("expected override to rank code 2 first, got %s", scored[0].Code)
	}
}

func TestWeightsAffectRanking(t *testing.T) {
	records := []Record{
		{Code: "exact", SearchText: "apple", Embedding: []float64{1, 0, 0}},
		{Code: "semantic", SearchText: "banana", Embedding: []float64{0, 1, 0}},
	}
	queryEmbedding := []float64{0, 1, 0}

	sparseFirst := ScoreRecords("apple", records, queryEmbedding, 0.95, 0.05, nil)
	if sparseFirst[0].Code != "exact" {
		t.Fatalf("sparse-weighted: expected lexical match first, got %s", sparseFirst[0].Code)
	}

	denseFirst := ScoreRecords("apple", records, queryEmbedding, 0.05, 0.95, nil)
	if denseFirst[0].Code != "semantic" {
		t.Fatalf("dense-weighted: expected semantic match first, got %s", denseFirst[0].Code)
	}
}

func TestCosineSimilarityZeroVectors(t *testing.T) {
	if got := CosineSimilarity(nil, []float64{1, 2}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := CosineSimilarity([]float64{0, 0}, []float64{1, 2}); got != 0 {
		t.Fatalf("expected 0 for zero-norm vector, got %v", got)
	}
}

func assertCodes(t *testing.T, got []Scored, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d (%v)", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Code != w {
			t.Fatalf("index %d: got code %s, want %s", i, got[i].Code, w)
		}
	}
}
