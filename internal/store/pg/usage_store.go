package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan-dev/castellan/internal/store"
)

const usageCols = "id, thread_id, agent_id, model, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, turns, duration_millis, created_at"

type UsageStore struct {
	db *pgxpool.Pool
}

func NewUsageStore(db *pgxpool.Pool) *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) Append(ctx context.Context, r store.UsageRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_records (`+usageCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.ThreadID, r.AgentID, r.Model, r.InputTokens, r.OutputTokens, r.CacheReadTokens,
		r.CacheCreationTokens, r.CostUSD, r.Turns, r.DurationMillis, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: append usage record: %w", err)
	}
	return nil
}

func (s *UsageStore) Query(ctx context.Context, filter store.UsageFilter) ([]store.UsageRecord, error) {
	query := `SELECT ` + usageCols + `
		FROM usage_records WHERE ($1 = '' OR agent_id = $1) AND ($2 = '' OR thread_id = $2)
		ORDER BY created_at DESC`
	args := []interface{}{filter.AgentID, filter.ThreadID}
	if filter.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: query usage: %w", err)
	}
	defer rows.Close()

	var out []store.UsageRecord
	for rows.Next() {
		var r store.UsageRecord
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.AgentID, &r.Model, &r.InputTokens, &r.OutputTokens,
			&r.CacheReadTokens, &r.CacheCreationTokens, &r.CostUSD, &r.Turns, &r.DurationMillis, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *UsageStore) SumByAgent(ctx context.Context, agentID string) (store.UsageTotals, error) {
	var t store.UsageTotals
	row := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0),
			COALESCE(SUM(cache_read_tokens),0), COALESCE(SUM(cache_creation_tokens),0),
			COALESCE(SUM(cost_usd),0), COUNT(*)
		FROM usage_records WHERE agent_id = $1`, agentID)
	if err := row.Scan(&t.InputTokens, &t.OutputTokens, &t.CacheReadTokens, &t.CacheCreationTokens, &t.CostUSD, &t.TurnCount); err != nil {
		return store.UsageTotals{}, fmt.Errorf("pg: sum usage: %w", err)
	}
	return t, nil
}
