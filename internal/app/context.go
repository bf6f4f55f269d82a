package app

import (
	"context"
	"errors"
	"fmt"

	"timeledger/internal/config"
	"timeledger/internal/domain"
	"timeledger/internal/engine"
	"timeledger/internal/repo"
)

// ResolveProject picks the active project: the override when given, the
// configured default otherwise, and the single root project as a last
// resort. A named project that does not exist yet is created on the fly.
func ResolveProject(ctx context.Context, eng engine.Engine, projectOverride, actor string) (domain.Project, error) {
	name := projectOverride
	if name == "" && eng.Config != nil {
		name = eng.Config.Project.Default
	}
	if name == "" {
		p, err := eng.Repo.SingleRootProject(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Project{}, fmt.Errorf("project not specified; use --project")
			}
			return domain.Project{}, err
		}
		return p, nil
	}
	p, err := eng.Repo.GetProjectByName(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	return eng.InitProject(ctx, name, actor)
}

// LoadConfig reads the workspace config, falling back to defaults when
// the file is missing.
func LoadConfig(workspace string) (*config.Config, error) {
	return config.LoadOptional(workspace)
}
