package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"formapi/internal/logger"
	"formapi/internal/metrics"
	"formapi/internal/models"
)

// ProjectStore is the persistence layer for project records. Lookups return
// nil, nil when no live record matches.
type ProjectStore interface {
	FindByID(ctx context.Context, id string) (*models.Project, error)
	FindByName(ctx context.Context, name string) (*models.Project, error)
	FindByParent(ctx context.Context, parentID string) ([]models.Project, error)
	UpdatePlan(ctx context.Context, id string, plan models.Plan) error
}

// FallbackCache holds synthetic descriptors for projects the license
// authority knows about but the local store does not.
type FallbackCache interface {
	GetProject(ctx context.Context, id string) (*models.Project, bool, error)
	SetProject(ctx context.Context, project *models.Project, ttl time.Duration) error
}

// UtilizationChecker is the license authority.
type UtilizationChecker interface {
	Utilization(ctx context.Context, req UtilizationRequest) (*UtilizationResult, error)
}

type ProjectCacheConfig struct {
	Hosted     bool
	TTL        time.Duration
	TrialDays  int
	LicenseKey string
}

type ProjectCache struct {
	store     ProjectStore
	fallback  FallbackCache
	authority UtilizationChecker
	cfg       ProjectCacheConfig
	now       func() time.Time
	group     singleflight.Group
}

func NewProjectCache(store ProjectStore, fallback FallbackCache, authority UtilizationChecker, cfg ProjectCacheConfig) *ProjectCache {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 30
	}
	return &ProjectCache{
		store:     store,
		fallback:  fallback,
		authority: authority,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock replaces time.Now for trial calculations.
func (c *ProjectCache) SetClock(now func() time.Time) {
	c.now = now
}

// LoadProject returns the live project with id, consulting the request
// cache, then the store, then (self-hosted only) the fallback cache and the
// license authority.
func (c *ProjectCache) LoadProject(ctx context.Context, id string) (*models.Project, error) {
	if id == "" {
		return nil, ErrNoProject
	}

	scope := ScopeFrom(ctx)
	if scope != nil {
		if p, ok := scope.project(id); ok {
			metrics.ProjectCacheLookups.WithLabelValues("request", "hit").Inc()
			return p, nil
		}
	}
	metrics.ProjectCacheLookups.WithLabelValues("request", "miss").Inc()

	project, err := c.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}

	if project == nil {
		if c.cfg.Hosted {
			return nil, ErrProjectNotFound
		}
		project, err = c.loadFallback(ctx, id)
		if err != nil {
			return nil, err
		}
	} else {
		c.checkTrial(ctx, project)
	}

	if scope != nil {
		scope.storeProject(project)
	}
	return project, nil
}

// LoadProjectByName resolves a live project by name. The name to id mapping
// is memoized for the rest of the request.
func (c *ProjectCache) LoadProjectByName(ctx context.Context, name string) (*models.Project, error) {
	scope := ScopeFrom(ctx)
	if scope != nil {
		if id, ok := scope.projectIDForName(name); ok {
			return c.LoadProject(ctx, id)
		}
	}

	project, err := c.store.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %q: %w", name, err)
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}

	c.checkTrial(ctx, project)

	if scope != nil {
		scope.storeName(name, project.ID)
		scope.storeProject(project)
	}
	return project, nil
}

// ListChildren returns the live tenants or stages of a project.
func (c *ProjectCache) ListChildren(ctx context.Context, id string) ([]models.Project, error) {
	children, err := c.store.FindByParent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list child projects: %w", err)
	}
	return children, nil
}

// checkTrial demotes an expired trial to the basic plan. A failed write is
// logged and the demoted record is still returned.
func (c *ProjectCache) checkTrial(ctx context.Context, project *models.Project) {
	if project.Plan != models.PlanTrial {
		return
	}
	if project.TrialRemaining(c.now(), c.cfg.TrialDays) > 0 {
		return
	}

	project.Plan = models.PlanBasic
	metrics.TrialDemotions.Inc()

	if err := c.store.UpdatePlan(ctx, project.ID, models.PlanBasic); err != nil {
		logger.FromContext(ctx).Warn("failed to persist trial expiry",
			zap.String("project_id", project.ID),
			zap.Error(err),
		)
	}
}

// loadFallback rebuilds a descriptor for a project the store does not know.
// The shared descriptor never carries an owner; each request gets its own
// user applied to a copy.
func (c *ProjectCache) loadFallback(ctx context.Context, id string) (*models.Project, error) {
	if p, ok, err := c.fallback.GetProject(ctx, id); err != nil {
		logger.FromContext(ctx).Warn("fallback cache read failed", zap.String("project_id", id), zap.Error(err))
	} else if ok {
		metrics.ProjectCacheLookups.WithLabelValues("fallback", "hit").Inc()
		return withRequestOwner(ctx, p), nil
	}
	metrics.ProjectCacheLookups.WithLabelValues("fallback", "miss").Inc()

	// The authority call outlives a disconnected client.
	callCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(id, func() (any, error) {
		result, err := c.authority.Utilization(callCtx, UtilizationRequest{
			Type:       UtilizationProject,
			LicenseKey: c.cfg.LicenseKey,
			ProjectID:  id,
			ReadOnly:   true,
		})
		if err != nil {
			return nil, err
		}

		project := &models.Project{
			ID:        id,
			Type:      models.TypeProject,
			Plan:      result.Plan(),
			Synthetic: true,
		}
		if err := c.fallback.SetProject(callCtx, project, c.cfg.TTL); err != nil {
			logger.FromContext(ctx).Warn("fallback cache write failed", zap.String("project_id", id), zap.Error(err))
		}
		return project, nil
	})
	if err != nil {
		return nil, err
	}
	return withRequestOwner(ctx, v.(*models.Project)), nil
}

// withRequestOwner returns a copy of p owned by the request's user, if any.
func withRequestOwner(ctx context.Context, p *models.Project) *models.Project {
	cp := p.Clone()
	cp.Owner = nil
	if scope := ScopeFrom(ctx); scope != nil {
		if uid := scope.UserID(); uid != "" {
			cp.Owner = &uid
		}
	}
	return cp
}
