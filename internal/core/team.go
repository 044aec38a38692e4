package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/shipyard/internal/model"
)

// TeamService manages project memberships. Invariant: every project has
// exactly one owner at all times; ownership moves only through
// TransferOwnership, which swaps both roles in a single statement.
type TeamService struct {
	db DB
}

func NewTeamService(db DB) *TeamService {
	return &TeamService{db: db}
}

// RoleOf returns the caller's role on a project, or ErrNotFound if they are
// not a member. Removal takes effect immediately: every check reads the
// table.
func (s *TeamService) RoleOf(ctx context.Context, userID, projectID string) (model.TeamRole, error) {
	var role model.TeamRole
	err := s.db.QueryRow(ctx,
		`SELECT role FROM team_members WHERE user_id = $1 AND project_id = $2`,
		userID, projectID,
	).Scan(&role)
	if err != nil {
		if isNoRows(err) {
			return "", fmt.Errorf("membership %s/%s: %w", userID, projectID, ErrNotFound)
		}
		return "", fmt.Errorf("get role for %s on %s: %w", userID, projectID, err)
	}
	return role, nil
}

// Add adds a member. The acting user must be admin or owner, and nobody is
// added as owner directly.
func (s *TeamService) Add(ctx context.Context, actorID, projectID, userID string, role model.TeamRole) error {
	if role == model.RoleOwner {
		return &ValidationError{Field: "role", Reason: "ownership is assigned via transfer, not add"}
	}
	if err := s.requireRole(ctx, actorID, projectID, model.RoleAdmin); err != nil {
		return err
	}

	now := time.Now()
	_, err := s.db.Exec(ctx,
		`INSERT INTO team_members (user_id, project_id, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, projectID, role, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &ValidationError{Field: "user_id", Reason: "already a member"}
		}
		return fmt.Errorf("add member %s to %s: %w", userID, projectID, err)
	}
	return nil
}

// SetRole changes a member's role. Owner role cannot be granted or revoked
// here; that keeps the one-owner invariant intact.
func (s *TeamService) SetRole(ctx context.Context, actorID, projectID, userID string, role model.TeamRole) error {
	if role == model.RoleOwner {
		return &ValidationError{Field: "role", Reason: "ownership is assigned via transfer"}
	}
	if err := s.requireRole(ctx, actorID, projectID, model.RoleAdmin); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE team_members SET role = $1, updated_at = now()
		 WHERE user_id = $2 AND project_id = $3 AND role <> $4`,
		role, userID, projectID, model.RoleOwner,
	)
	if err != nil {
		return fmt.Errorf("set role for %s on %s: %w", userID, projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return &ValidationError{Field: "user_id", Reason: "not a member, or is the owner"}
	}
	return nil
}

// Remove deletes a membership. The owner cannot be removed; their access is
// revoked the moment the row is gone.
func (s *TeamService) Remove(ctx context.Context, actorID, projectID, userID string) error {
	if err := s.requireRole(ctx, actorID, projectID, model.RoleAdmin); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM team_members WHERE user_id = $1 AND project_id = $2 AND role <> $3`,
		userID, projectID, model.RoleOwner,
	)
	if err != nil {
		return fmt.Errorf("remove member %s from %s: %w", userID, projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return &ValidationError{Field: "user_id", Reason: "not a member, or is the owner"}
	}
	return nil
}

// TransferOwnership atomically demotes the current owner to admin and
// promotes the target member to owner. At no instant does the project have
// zero or two owners visible outside the statement.
func (s *TeamService) TransferOwnership(ctx context.Context, actorID, projectID, newOwnerID string) error {
	if err := s.requireRole(ctx, actorID, projectID, model.RoleOwner); err != nil {
		return err
	}
	// The demote and promote below touch two distinct rows; Postgres applies
	// only one modification when a data-modifying CTE and the outer UPDATE hit
	// the same row, which would demote the owner without promoting anyone.
	if newOwnerID == actorID {
		return &ValidationError{Field: "user_id", Reason: "already the owner"}
	}

	var promoted string
	err := s.db.QueryRow(ctx,
		`WITH demoted AS (
		    UPDATE team_members SET role = $1, updated_at = now()
		    WHERE project_id = $2 AND role = $3
		    RETURNING project_id
		 )
		 UPDATE team_members SET role = $3, updated_at = now()
		 WHERE user_id = $4 AND project_id = $2
		   AND EXISTS (SELECT 1 FROM demoted)
		 RETURNING user_id`,
		model.RoleAdmin, projectID, model.RoleOwner, newOwnerID,
	).Scan(&promoted)
	if err != nil {
		if isNoRows(err) {
			return &ValidationError{Field: "user_id", Reason: "target is not a member of the project"}
		}
		return fmt.Errorf("transfer ownership of %s to %s: %w", projectID, newOwnerID, err)
	}

	_, err = s.db.Exec(ctx,
		`UPDATE projects SET owner_id = $1, updated_at = now() WHERE id = $2`,
		newOwnerID, projectID)
	if err != nil {
		return fmt.Errorf("update project owner: %w", err)
	}
	return nil
}

// List returns all members of a project.
func (s *TeamService) List(ctx context.Context, projectID string) ([]model.TeamMember, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, project_id, role, created_at, updated_at
		 FROM team_members WHERE project_id = $1 ORDER BY user_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", projectID, err)
	}
	defer rows.Close()

	var members []model.TeamMember
	for rows.Next() {
		var m model.TeamMember
		if err := rows.Scan(&m.UserID, &m.ProjectID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *TeamService) requireRole(ctx context.Context, userID, projectID string, min model.TeamRole) error {
	role, err := s.RoleOf(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if !role.AtLeast(min) {
		return &ValidationError{Field: "actor", Reason: fmt.Sprintf("requires %s role or above", min)}
	}
	return nil
}
