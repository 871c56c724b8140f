package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// PgFTS implements Searcher using PostgreSQL full-text search over posts.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	query, args := buildQuery(normalize(q))
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.PostID, &r.ThreadID, &r.Name, &r.Snippet, &r.ClientID, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, total, nil
}

// buildQuery ranks posts against plainto_tsquery and returns a highlighted
// snippet along with the total match count on every row.
func buildQuery(q Query) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	tsQuery := fmt.Sprintf("plainto_tsquery('simple', %s)", sb.Var(q.Text))

	sb.Select(
		"p.id",
		"p.thread_id",
		"p.name",
		fmt.Sprintf("ts_headline('simple', p.content, %s, 'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30')", tsQuery),
		"p.client_id",
		"COUNT(*) OVER ()",
	)
	sb.From("posts p")
	sb.Where("p.fts @@ " + tsQuery)
	if q.ThreadID != "" {
		sb.Where(sb.Equal("p.thread_id", q.ThreadID))
	}
	sb.OrderBy(fmt.Sprintf("ts_rank(p.fts, %s) DESC", tsQuery), "p.id DESC")
	sb.Limit(q.Limit)
	sb.Offset(q.Offset)

	return sb.Build()
}
