package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskdeck/internal/domain"
	"taskdeck/internal/repo"
)

// ResolveActor looks up the acting user, seeding it on first use. A fresh
// workspace has no users, so the first actor becomes admin; later actors
// default to member and an existing admin manages roles from there.
func ResolveActor(ctx context.Context, r repo.Repo, actorID string) (domain.User, error) {
	if actorID == "" {
		actorID = "local-user"
	}
	u, err := r.GetUser(ctx, actorID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	role := domain.RoleMember
	existing, err := r.ListUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if len(existing) == 0 {
		role = domain.RoleAdmin
	}
	u = domain.User{
		ID:        actorID,
		Name:      actorID,
		Email:     fmt.Sprintf("%s@localhost", actorID),
		Role:      role,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}
