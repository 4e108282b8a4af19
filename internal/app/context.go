package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadline/internal/config"
	"leadline/internal/domain"
	"leadline/internal/repo"
)

// ResolveActorAndConfig loads the workspace config and the acting user's row.
// On an empty database the actor is seeded as a manager so local CLI use
// works without a separate setup step; once users exist, unknown actor ids
// are rejected.
func ResolveActorAndConfig(ctx context.Context, workspace, actorID string, r repo.Repo) (*config.Config, domain.User, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, domain.User{}, err
	}
	if actorID == "" {
		actorID = "local-user"
	}
	u, err := r.GetUser(ctx, actorID)
	if err == nil {
		return cfg, u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, domain.User{}, err
	}
	existing, err := r.ListUsers(ctx)
	if err != nil {
		return nil, domain.User{}, err
	}
	if len(existing) > 0 {
		return nil, domain.User{}, fmt.Errorf("unknown actor %q; create the user first with `ll user add`", actorID)
	}
	u = domain.User{
		ID:        actorID,
		Name:      actorID,
		Email:     actorID + "@localhost",
		Role:      domain.RoleManager,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertUser(ctx, u); err != nil {
		return nil, domain.User{}, fmt.Errorf("seed manager user: %w", err)
	}
	return cfg, u, nil
}
