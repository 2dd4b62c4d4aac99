package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"formapi/internal/models"
)

var (
	// ErrNameTaken is returned when a live project already uses the name.
	ErrNameTaken = errors.New("project name already in use")
	ErrNotFound  = errors.New("record not found")
)

const uniqueViolation = "23505"

const projectColumns = `id, name, title, type::text, plan::text, trial, project, remote, owner, settings, deleted, created_at, modified_at`

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var (
		p           models.Project
		projectType string
		plan        string
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Title,
		&projectType,
		&plan,
		&p.Trial,
		&p.Project,
		&p.Remote,
		&p.Owner,
		&p.Settings,
		&p.Deleted,
		&p.CreatedAt,
		&p.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Type = models.ProjectType(projectType)
	p.Plan = models.Plan(plan)
	return &p, nil
}

func (r *ProjectRepository) findOne(ctx context.Context, query string, args ...any) (*models.Project, error) {
	project, err := scanProject(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return project, nil
}

// FindByID returns the live project with id, or nil when there is none.
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND deleted IS NULL`
	return r.findOne(ctx, query, id)
}

// FindByName returns the live project named name, or nil when there is none.
func (r *ProjectRepository) FindByName(ctx context.Context, name string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE name = $1 AND deleted IS NULL`
	return r.findOne(ctx, query, name)
}

// FindByParent lists the live projects whose back-reference is parentID.
func (r *ProjectRepository) FindByParent(ctx context.Context, parentID string) ([]models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects WHERE project = $1 AND deleted IS NULL
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}

	return projects, rows.Err()
}

func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	project.Prepare()

	query := `
		INSERT INTO projects (id, name, title, type, plan, trial, project, remote, owner, settings, created_at, modified_at)
		VALUES ($1, $2, $3, $4::project_type_t, $5::plan_t, $6, $7, $8, $9, $10, $11, $11)
	`

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, query,
		project.ID,
		project.Name,
		project.Title,
		string(project.Type),
		string(project.Plan),
		project.Trial,
		project.Project,
		project.Remote,
		project.Owner,
		project.Settings,
		now,
	)
	if err != nil {
		return mapWriteError(err)
	}

	project.CreatedAt = now
	project.ModifiedAt = now
	return nil
}

// Update persists the mutable fields of a live project.
func (r *ProjectRepository) Update(ctx context.Context, project *models.Project) error {
	query := `
		UPDATE projects SET
			name = $2, title = $3, plan = $4::plan_t, trial = $5, remote = $6, settings = $7, modified_at = $8
		WHERE id = $1 AND deleted IS NULL
	`

	now := time.Now().UTC()
	result, err := r.pool.Exec(ctx, query,
		project.ID,
		project.Name,
		project.Title,
		string(project.Plan),
		project.Trial,
		project.Remote,
		project.Settings,
		now,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	project.ModifiedAt = now
	return nil
}

func (r *ProjectRepository) UpdatePlan(ctx context.Context, id string, plan models.Plan) error {
	query := `UPDATE projects SET plan = $2::plan_t, modified_at = NOW() WHERE id = $1 AND deleted IS NULL`
	_, err := r.pool.Exec(ctx, query, id, string(plan))
	return err
}

func (r *ProjectRepository) UpdateOwner(ctx context.Context, id string, owner string) error {
	query := `UPDATE projects SET owner = $2, modified_at = NOW() WHERE id = $1 AND deleted IS NULL`
	result, err := r.pool.Exec(ctx, query, id, owner)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks the project and its live descendants deleted.
func (r *ProjectRepository) SoftDelete(ctx context.Context, id string) error {
	query := `
		UPDATE projects SET deleted = NOW()
		WHERE deleted IS NULL AND (
			id = $1
			OR project = $1
			OR project IN (SELECT id FROM projects WHERE project = $1)
		)
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrNameTaken
	}
	return err
}
