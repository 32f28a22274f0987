package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true - if Postgres is down, the whole client is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the messages table with ts_headline
// snippets, ranked by ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `m.fts @@ plainto_tsquery('english', $1)`
	args := []any{q.Text}
	if q.ChannelID != "" {
		where += ` AND m.channel_id = $2`
		args = append(args, q.ChannelID)
	}

	var total int
	countSQL := `SELECT count(*) FROM messages m WHERE ` + where
	if err := p.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("fts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT m.id, coalesce(m.channel_id, ''), u.display_name,
			ts_headline('english', m.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE %s
		ORDER BY ts_rank(m.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.Query(dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ChannelID, &r.SenderName, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("scan fts result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate fts results: %w", err)
	}
	return results, total, nil
}
