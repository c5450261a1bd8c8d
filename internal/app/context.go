package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project +
// config exist in DB, seeding defaults if missing. It prefers overrides,
// then single-project DB. If the project does not exist, it is created on
// the fly.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}
	seedCfg := fileOrDefaultConfig(workspace, projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

// fileOrDefaultConfig prefers specline.yml in the workspace over the
// built-in defaults.
func fileOrDefaultConfig(workspace, projectID string) *config.Config {
	if cfg, err := config.LoadOptional(workspace); err == nil && cfg != nil {
		cfg.Project.ID = projectID
		return cfg
	}
	return config.Default(projectID)
}

// createProject inserts a minimal project footprint using the seed config.
func createProject(ctx context.Context, r repo.Repo, projectID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(projectID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Project{
		ID:        projectID,
		Type:      seedCfg.Project.Type,
		Status:    "active",
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,type,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Type, p.Status, nil, p.CreatedAt); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfigTx(ctx, tx, projectID, seedCfg); err != nil {
		return fmt.Errorf("insert project config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
