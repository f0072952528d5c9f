package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan-dev/castellan/internal/store"
)

const agentCols = "id, key, name, identity, instructions, system_prompt, responsibilities, trust, capabilities, directories, allowed_delegates, subagents, model, created_at, updated_at"

type AgentStore struct {
	db *pgxpool.Pool
}

func NewAgentStore(db *pgxpool.Pool) *AgentStore {
	return &AgentStore{db: db}
}

func scanAgent(row pgx.Row) (store.Agent, error) {
	var a store.Agent
	var responsibilities, caps, directories, delegates, subagents []byte
	var model *string
	if err := row.Scan(&a.ID, &a.Key, &a.Name, &a.Identity, &a.Instructions, &a.SystemPrompt,
		&responsibilities, &a.Trust, &caps, &directories, &delegates, &subagents, &model,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Agent{}, store.ErrAgentNotFound
		}
		return store.Agent{}, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
	}
	if len(responsibilities) > 0 {
		_ = json.Unmarshal(responsibilities, &a.Responsibilities)
	}
	if len(caps) > 0 {
		_ = json.Unmarshal(caps, &a.Capabilities)
	}
	if len(directories) > 0 {
		_ = json.Unmarshal(directories, &a.Directories)
	}
	if len(delegates) > 0 {
		_ = json.Unmarshal(delegates, &a.AllowedDelegates)
	}
	if len(subagents) > 0 {
		_ = json.Unmarshal(subagents, &a.Subagents)
	}
	if model != nil {
		a.Model = *model
	}
	return a, nil
}

func agentArgs(a store.Agent) []interface{} {
	responsibilities, _ := json.Marshal(a.Responsibilities)
	caps, _ := json.Marshal(a.Capabilities)
	directories, _ := json.Marshal(a.Directories)
	delegates, _ := json.Marshal(a.AllowedDelegates)
	subagents, _ := json.Marshal(a.Subagents)
	return []interface{}{a.ID, a.Key, a.Name, a.Identity, a.Instructions, a.SystemPrompt,
		responsibilities, a.Trust, caps, directories, delegates, subagents, a.Model,
		a.CreatedAt, a.UpdatedAt}
}

func (s *AgentStore) Create(ctx context.Context, a store.Agent) (store.Agent, error) {
	if err := store.ValidateAgent(a); err != nil {
		return store.Agent{}, err
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (`+agentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15)`, agentArgs(a)...)
	if err != nil {
		return store.Agent{}, fmt.Errorf("pg: create agent: %w", err)
	}
	return a, nil
}

func (s *AgentStore) Get(ctx context.Context, key string) (store.Agent, error) {
	row := s.db.QueryRow(ctx, "SELECT "+agentCols+" FROM agents WHERE key = $1", key)
	return scanAgent(row)
}

func (s *AgentStore) GetByID(ctx context.Context, id string) (store.Agent, error) {
	row := s.db.QueryRow(ctx, "SELECT "+agentCols+" FROM agents WHERE id = $1", id)
	return scanAgent(row)
}

func (s *AgentStore) List(ctx context.Context) ([]store.Agent, error) {
	rows, err := s.db.Query(ctx, "SELECT "+agentCols+" FROM agents ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("pg: list agents: %w", err)
	}
	defer rows.Close()

	var out []store.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *AgentStore) Update(ctx context.Context, a store.Agent, opts store.UpdateOpts) (store.Agent, error) {
	current, err := s.GetByID(ctx, a.ID)
	if err != nil {
		return store.Agent{}, err
	}
	next, err := store.ApplyProtectedFieldPolicy(current, a, opts)
	if err != nil {
		return store.Agent{}, err
	}
	if err := store.ValidateAgent(next); err != nil {
		return store.Agent{}, err
	}
	next.UpdatedAt = time.Now().UTC()
	responsibilities, _ := json.Marshal(next.Responsibilities)
	caps, _ := json.Marshal(next.Capabilities)
	directories, _ := json.Marshal(next.Directories)
	delegates, _ := json.Marshal(next.AllowedDelegates)
	subagents, _ := json.Marshal(next.Subagents)
	tag, err := s.db.Exec(ctx, `
		UPDATE agents SET key=$2, name=$3, identity=$4, instructions=$5, system_prompt=$6,
			responsibilities=$7, trust=$8, capabilities=$9, directories=$10,
			allowed_delegates=$11, subagents=$12, model=NULLIF($13,''), updated_at=$14
		WHERE id=$1`,
		next.ID, next.Key, next.Name, next.Identity, next.Instructions, next.SystemPrompt,
		responsibilities, next.Trust, caps, directories, delegates, subagents, next.Model, next.UpdatedAt)
	if err != nil {
		return store.Agent{}, fmt.Errorf("pg: update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Agent{}, store.ErrAgentNotFound
	}
	next.CreatedAt = current.CreatedAt
	return next, nil
}

func (s *AgentStore) Delete(ctx context.Context, id string) error {
	if store.IsProtectedAgentID(id) {
		return store.ErrProtectedAgent
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM agents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("pg: delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAgentNotFound
	}
	return nil
}
