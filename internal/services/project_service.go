package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"formapi/internal/models"
	"formapi/internal/repositories"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

var (
	ErrInvalidType   = errors.New("invalid project type")
	ErrInvalidPlan   = errors.New("invalid project plan")
	ErrInvalidParent = errors.New("stages cannot contain other projects")
	ErrOwnerRequired = errors.New("owner is required")
)

type ProjectWriter interface {
	Create(ctx context.Context, project *models.Project) error
	Update(ctx context.Context, project *models.Project) error
	UpdateOwner(ctx context.Context, id string, owner string) error
	SoftDelete(ctx context.Context, id string) error
}

type UsageReader interface {
	Latest(ctx context.Context, key string) (*models.UsageRecord, error)
}

type ProjectService struct {
	writer ProjectWriter
	usage  UsageReader
	hosted bool
	now    func() time.Time
}

func NewProjectService(writer ProjectWriter, usage UsageReader, hosted bool) *ProjectService {
	return &ProjectService{
		writer: writer,
		usage:  usage,
		hosted: hosted,
		now:    time.Now,
	}
}

type CreateProjectRequest struct {
	Title    string             `json:"title" binding:"required"`
	Name     string             `json:"name" binding:"required"`
	Type     models.ProjectType `json:"type"`
	Plan     models.Plan        `json:"plan"`
	Project  string             `json:"project"`
	Remote   bool               `json:"remote"`
	Settings *models.Settings   `json:"settings"`
}

type UpdateProjectRequest struct {
	Title    *string          `json:"title"`
	Name     *string          `json:"name"`
	Plan     *models.Plan     `json:"plan"`
	Remote   *bool            `json:"remote"`
	Settings *models.Settings `json:"settings"`
}

// CreateProject creates a primary project, or a tenant/stage under parent.
func (s *ProjectService) CreateProject(ctx context.Context, userID string, parent *Hierarchy, req CreateProjectRequest) (*models.Project, error) {
	if !namePattern.MatchString(req.Name) {
		return nil, ErrInvalidName
	}

	project := &models.Project{
		Name:   req.Name,
		Title:  req.Title,
		Type:   req.Type,
		Plan:   req.Plan,
		Remote: req.Remote,
	}
	if req.Settings != nil {
		project.Settings = *req.Settings
	}
	if userID != "" {
		project.Owner = &userID
	}

	if parent != nil {
		if parent.Current.Type == models.TypeStage {
			return nil, ErrInvalidParent
		}
		if project.Type == "" {
			project.Type = models.TypeStage
		}
		if project.Type == models.TypeProject {
			return nil, fmt.Errorf("%w: a child project must be a tenant or a stage", ErrInvalidType)
		}
		parentID := parent.Current.ID
		project.Project = &parentID
		project.Plan = parent.Primary.Plan
		if project.Owner == nil {
			project.Owner = parent.Primary.Owner
		}
	} else {
		if project.Type == "" {
			project.Type = models.TypeProject
		}
		if project.Type != models.TypeProject {
			return nil, fmt.Errorf("%w: %s requires a parent project", ErrInvalidType, project.Type)
		}
		if project.Plan == "" {
			project.Plan = models.PlanBasic
			if s.hosted {
				project.Plan = models.PlanTrial
			}
		}
	}

	if !project.Type.Valid() {
		return nil, ErrInvalidType
	}
	if !project.Plan.Valid() {
		return nil, ErrInvalidPlan
	}
	if project.Plan == models.PlanTrial && project.Trial == nil {
		now := s.now().UTC()
		project.Trial = &now
	}

	if err := s.writer.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	return project, nil
}

// UpdateProject applies req to a copy of current and persists it.
func (s *ProjectService) UpdateProject(ctx context.Context, current *models.Project, req UpdateProjectRequest) (*models.Project, error) {
	updated := current.Clone()
	updated.APICalls = nil
	updated.Disabled = ""

	if req.Title != nil {
		updated.Title = *req.Title
	}
	if req.Name != nil && *req.Name != current.Name {
		if !current.Plan.AllowsRename() {
			return nil, ErrNameImmutable
		}
		if !namePattern.MatchString(*req.Name) {
			return nil, ErrInvalidName
		}
		updated.Name = *req.Name
	}
	if req.Plan != nil && *req.Plan != current.Plan {
		if !req.Plan.Valid() {
			return nil, ErrInvalidPlan
		}
		updated.Plan = *req.Plan
		if updated.Plan == models.PlanTrial {
			now := s.now().UTC()
			updated.Trial = &now
		} else {
			updated.Trial = nil
		}
	}
	if req.Remote != nil {
		updated.Remote = *req.Remote
	}
	if req.Settings != nil {
		updated.Settings = *req.Settings
	}

	if err := s.writer.Update(ctx, updated); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return updated, nil
}

func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	if err := s.writer.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

func (s *ProjectService) ChangeOwner(ctx context.Context, id string, owner string) error {
	if owner == "" {
		return ErrOwnerRequired
	}
	if err := s.writer.UpdateOwner(ctx, id, owner); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("failed to change owner: %w", err)
	}
	return nil
}

type Usage struct {
	APICalls      *models.APICalls `json:"apiCalls,omitempty"`
	LastSuccessAt time.Time        `json:"lastSuccess"`
}

// Usage returns the last recorded utilization for a primary project, or nil.
func (s *ProjectService) Usage(ctx context.Context, primaryID string) (*Usage, error) {
	record, err := s.usage.Latest(ctx, primaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	if record == nil {
		return nil, nil
	}
	calls, err := record.APICalls()
	if err != nil {
		return nil, fmt.Errorf("failed to decode usage: %w", err)
	}
	return &Usage{APICalls: calls, LastSuccessAt: record.LastSuccessAt}, nil
}
