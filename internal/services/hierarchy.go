package services

import (
	"context"
	"fmt"

	"formapi/internal/models"
)

// Hierarchy is the resolved project chain for a request. For a primary
// project all three point to the same record.
type Hierarchy struct {
	Current *models.Project
	Parent  *models.Project
	Primary *models.Project
}

// ProjectRef carries the request-level sources of a project id, lowest
// priority last. The id already set on the request scope wins over both.
type ProjectRef struct {
	PathParam   string
	BodyProject string
}

// CurrentProjectID picks the project id for the request.
func CurrentProjectID(ctx context.Context, ref ProjectRef) (string, error) {
	if scope := ScopeFrom(ctx); scope != nil {
		if id := scope.ProjectID(); id != "" {
			return id, nil
		}
	}
	if ref.PathParam != "" {
		return ref.PathParam, nil
	}
	if ref.BodyProject != "" {
		return ref.BodyProject, nil
	}
	return "", ErrNoProject
}

func (c *ProjectCache) LoadCurrentProject(ctx context.Context, ref ProjectRef) (*models.Project, error) {
	id, err := CurrentProjectID(ctx, ref)
	if err != nil {
		return nil, err
	}
	return c.LoadProject(ctx, id)
}

// LoadParentProject returns the current project's parent, or the current
// project itself when it is a primary project.
func (c *ProjectCache) LoadParentProject(ctx context.Context, ref ProjectRef) (*models.Project, error) {
	current, err := c.LoadCurrentProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	return c.parentOf(ctx, current)
}

// LoadPrimaryProject walks at most two hops: stage to tenant to primary.
// Deeper chains are not followed.
func (c *ProjectCache) LoadPrimaryProject(ctx context.Context, ref ProjectRef) (*models.Project, error) {
	h, err := c.LoadHierarchy(ctx, ref)
	if err != nil {
		return nil, err
	}
	return h.Primary, nil
}

// LoadHierarchy resolves current, parent and primary projects and memoizes
// the result on the request scope.
func (c *ProjectCache) LoadHierarchy(ctx context.Context, ref ProjectRef) (*Hierarchy, error) {
	current, err := c.LoadCurrentProject(ctx, ref)
	if err != nil {
		return nil, err
	}

	scope := ScopeFrom(ctx)
	if scope != nil {
		if h := scope.cachedHierarchy(); h != nil && h.Current.ID == current.ID {
			return h, nil
		}
	}

	parent, err := c.parentOf(ctx, current)
	if err != nil {
		return nil, err
	}

	primary := parent
	if parent.ID != current.ID {
		primary, err = c.parentOf(ctx, parent)
		if err != nil {
			return nil, err
		}
		if primary.ID == current.ID {
			return nil, fmt.Errorf("project %s: %w", current.ID, ErrHierarchyCycle)
		}
	}

	h := &Hierarchy{Current: current, Parent: parent, Primary: primary}
	if scope != nil {
		scope.storeHierarchy(h)
	}
	return h, nil
}

func (c *ProjectCache) parentOf(ctx context.Context, project *models.Project) (*models.Project, error) {
	if project.IsPrimary() {
		return project, nil
	}
	parentID := project.ParentID()
	if parentID == project.ID {
		return nil, fmt.Errorf("project %s: %w", project.ID, ErrHierarchyCycle)
	}
	parent, err := c.LoadProject(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent of %s: %w", project.ID, err)
	}
	return parent, nil
}
