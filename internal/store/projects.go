package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agenthub.dev/dispatch/internal/model"
)

type PGProjectStore struct {
	pool *pgxpool.Pool
}

func NewPGProjectStore(pool *pgxpool.Pool) *PGProjectStore {
	return &PGProjectStore{pool: pool}
}

func (s *PGProjectStore) GetByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, repo_path, entry_agent_id FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.TenantID, &p.Name, &p.RepoPath, &p.EntryAgentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying project: %w", err)
	}

	agents, err := s.listAgents(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Agents = agents
	return &p, nil
}

func (s *PGProjectStore) Create(ctx context.Context, project *model.Project) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO projects (id, tenant_id, name, repo_path, entry_agent_id) VALUES ($1, $2, $3, $4, $5)`,
		project.ID, project.TenantID, project.Name, project.RepoPath, project.EntryAgentID,
	)
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}

	if err := insertAgents(ctx, tx, project); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGProjectStore) Update(ctx context.Context, project *model.Project) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE projects SET name = $2, repo_path = $3, entry_agent_id = $4 WHERE id = $1`,
		project.ID, project.Name, project.RepoPath, project.EntryAgentID,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM agent_definitions WHERE project_id = $1`, project.ID); err != nil {
		return fmt.Errorf("clearing agent definitions: %w", err)
	}
	if err := insertAgents(ctx, tx, project); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGProjectStore) ListByTenant(ctx context.Context, tenantID string) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, repo_path, entry_agent_id FROM projects WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.RepoPath, &p.EntryAgentID); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PGProjectStore) listAgents(ctx context.Context, projectID string) ([]model.AgentDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, role, provider, model, system_prompt, next_agents, config
		 FROM agent_definitions WHERE project_id = $1 ORDER BY position`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing agent definitions: %w", err)
	}
	defer rows.Close()

	var agents []model.AgentDefinition
	for rows.Next() {
		var a model.AgentDefinition
		var rawConfig []byte
		if err := rows.Scan(&a.AgentID, &a.Role, &a.Provider, &a.Model, &a.SystemPrompt, &a.NextAgents, &rawConfig); err != nil {
			return nil, fmt.Errorf("scanning agent definition: %w", err)
		}
		if len(rawConfig) > 0 {
			if err := json.Unmarshal(rawConfig, &a.Config); err != nil {
				return nil, fmt.Errorf("unmarshaling agent config: %w", err)
			}
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func insertAgents(ctx context.Context, tx pgx.Tx, project *model.Project) error {
	for i, a := range project.Agents {
		cfg, err := json.Marshal(a.Config)
		if err != nil {
			return fmt.Errorf("marshaling agent config: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO agent_definitions (project_id, agent_id, role, provider, model, system_prompt, next_agents, config, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			project.ID, a.AgentID, a.Role, a.Provider, a.Model, a.SystemPrompt, a.NextAgents, cfg, i,
		)
		if err != nil {
			return fmt.Errorf("inserting agent definition %s: %w", a.AgentID, err)
		}
	}
	return nil
}
