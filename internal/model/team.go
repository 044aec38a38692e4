package model

import (
	"fmt"
	"time"
)

// TeamRole is an ordered project role. Higher values carry every permission
// of the lower ones.
type TeamRole string

const (
	RoleViewer TeamRole = "viewer"
	RoleMember TeamRole = "member"
	RoleAdmin  TeamRole = "admin"
	RoleOwner  TeamRole = "owner"
)

var teamRoleRank = map[TeamRole]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// ParseTeamRole validates a role token.
func ParseTeamRole(s string) (TeamRole, error) {
	if _, ok := teamRoleRank[TeamRole(s)]; !ok {
		return "", fmt.Errorf("unknown team role %q", s)
	}
	return TeamRole(s), nil
}

// AtLeast reports whether the role carries the permissions of min.
func (r TeamRole) AtLeast(min TeamRole) bool {
	return teamRoleRank[r] >= teamRoleRank[min]
}

// TeamMember associates a user with a project. Every project has exactly
// one owner at all times.
type TeamMember struct {
	UserID    string    `json:"user_id" db:"user_id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Role      TeamRole  `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
