package core

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/edvin/shipyard/internal/model"
)

// slugRegex accepts DNS-safe labels: lowercase alphanumerics with interior
// hyphens, no leading or trailing separator, max 63 characters.
var slugRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateSlug checks a project slug against the DNS-label rules.
func ValidateSlug(slug string) error {
	if slug == "" {
		return &ValidationError{Field: "slug", Reason: "must not be empty"}
	}
	if !slugRegex.MatchString(slug) {
		return &ValidationError{Field: "slug", Reason: "must be a DNS-safe label without leading or trailing separators"}
	}
	return nil
}

type ProjectService struct {
	db DB
}

func NewProjectService(db DB) *ProjectService {
	return &ProjectService{db: db}
}

const projectColumns = `id, owner_id, slug, build_command, output_dir, active_deployment_id, created_at, updated_at`

func scanProject(row interface{ Scan(dest ...any) error }) (model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Slug, &p.BuildCommand, &p.OutputDir,
		&p.ActiveDeploymentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	return p, nil
}

// Create inserts a project and its owner team membership. The slug is
// unique per owner; a duplicate is a validation failure, not an infra error.
func (s *ProjectService) Create(ctx context.Context, ownerID, slug, buildCommand, outputDir string) (*model.Project, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	now := time.Now()
	p := &model.Project{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Slug:         slug,
		BuildCommand: buildCommand,
		OutputDir:    outputDir,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, owner_id, slug, build_command, output_dir, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.OwnerID, p.Slug, p.BuildCommand, p.OutputDir, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ValidationError{Field: "slug", Reason: fmt.Sprintf("slug %q already in use", slug)}
		}
		return nil, fmt.Errorf("create project: %w", err)
	}

	// The creator is the project's one owner.
	_, err = s.db.Exec(ctx,
		`INSERT INTO team_members (user_id, project_id, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ownerID, p.ID, model.RoleOwner, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create owner membership: %w", err)
	}

	return p, nil
}

func (s *ProjectService) GetByID(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

func (s *ProjectService) ListByOwner(ctx context.Context, ownerID string, limit int, cursor string) ([]model.Project, bool, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1`
	args := []any{ownerID}
	argIdx := 2

	if cursor != "" {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list projects for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate projects: %w", err)
	}

	hasMore := len(projects) > limit
	if hasMore {
		projects = projects[:limit]
	}
	return projects, hasMore, nil
}

func (s *ProjectService) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}
