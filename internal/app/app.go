package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vibeline/internal/config"
	"vibeline/internal/db"
	"vibeline/internal/domain"
	"vibeline/internal/engine"
	"vibeline/internal/llm"
	"vibeline/internal/migrate"
	"vibeline/internal/repo"
)

// Runtime bundles the opened store and configured engine for a workspace.
type Runtime struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
}

// Open prepares a workspace: database, migrations, config, and a seeded
// admin account. The admin comes from config so a fresh install always has
// one principal able to decide applications.
func Open(ctx context.Context, workspace string) (*Runtime, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	if cfg.LLM.BaseURL != "" || cfg.LLM.TokenEnv != "" {
		if completer, err := llm.NewClient(cfg); err == nil {
			eng.Completer = completer
		}
	}
	if err := ensureAdmin(ctx, eng, cfg.Auth.AdminEmail); err != nil {
		conn.Close()
		return nil, err
	}
	return &Runtime{DB: conn, Engine: eng, Config: cfg}, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

func ensureAdmin(ctx context.Context, eng engine.Engine, email string) error {
	if email == "" {
		return nil
	}
	_, err := eng.Repo.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	admin := domain.Principal{
		ID:               uuid.New().String(),
		Email:            email,
		FullName:         "Administrator",
		Role:             domain.RoleAdmin,
		ProfileCompleted: true,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	if err := eng.Repo.InsertUser(ctx, admin); err != nil && !errors.Is(err, repo.ErrConflict) {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}
