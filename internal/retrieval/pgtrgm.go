package retrieval

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BuildPgTrgmSparseScores probes for a single SQL statement computing
// trigram similarity (pg_trgm's `similarity(a, b)`) for every record's
// search text against query, in the same order as records. This is a
// capability probe, not a hard dependency: any SQL failure (extension not
// installed, statement timeout, connection error) degrades to
// (nil, false) so the caller falls back to the in-process SparseScore path.
func BuildPgTrgmSparseScores(ctx context.Context, pool *pgxpool.Pool, query string, records []Record) ([]float64, bool) {
	if pool == nil || len(records) == 0 {
		return nil, false
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.SearchText
	}

	rows, err := pool.Query(ctx, `
		SELECT similarity($1, t)
		FROM unnest($2::text[]) WITH ORDINALITY AS u(t, ord)
		ORDER BY u.ord
	`, query, texts)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	scores := make([]float64, 0, len(records))
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, false
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, false
	}
	if len(scores) != len(records) {
		return nil, false
	}
	return scores, true
}
