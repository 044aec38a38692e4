package model

import "time"

type Project struct {
	ID                 string    `json:"id" db:"id"`
	OwnerID            string    `json:"owner_id" db:"owner_id"`
	Slug               string    `json:"slug" db:"slug"`
	BuildCommand       string    `json:"build_command" db:"build_command"`
	OutputDir          string    `json:"output_dir" db:"output_dir"`
	ActiveDeploymentID *string   `json:"active_deployment_id,omitempty" db:"active_deployment_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}
