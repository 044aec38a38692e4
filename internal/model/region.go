package model

import (
	"fmt"
	"time"
)

// RegionStatus is the health state of a deploy region.
type RegionStatus string

const (
	RegionHealthy     RegionStatus = "healthy"
	RegionDegraded    RegionStatus = "degraded"
	RegionUnhealthy   RegionStatus = "unhealthy"
	RegionMaintenance RegionStatus = "maintenance"
)

// ParseRegionStatus validates a region status token.
func ParseRegionStatus(s string) (RegionStatus, error) {
	switch RegionStatus(s) {
	case RegionHealthy, RegionDegraded, RegionUnhealthy, RegionMaintenance:
		return RegionStatus(s), nil
	}
	return "", fmt.Errorf("unknown region status %q", s)
}

type Region struct {
	ID                  string       `json:"id" db:"id"`
	Name                string       `json:"name" db:"name"`
	Endpoint            string       `json:"endpoint" db:"endpoint"`
	Status              RegionStatus `json:"status" db:"status"`
	IsPrimary           bool         `json:"is_primary" db:"is_primary"`
	Priority            int          `json:"priority" db:"priority"`
	MaxDeployments      int          `json:"max_deployments" db:"max_deployments"`
	ActiveDeployments   int          `json:"active_deployments" db:"active_deployments"`
	ConsecutiveFailures int          `json:"consecutive_failures" db:"consecutive_failures"`
	LastCheckAt         *time.Time   `json:"last_check_at,omitempty" db:"last_check_at"`
	LastLatencyMs       *int         `json:"last_latency_ms,omitempty" db:"last_latency_ms"`
	FailoverCount       int          `json:"failover_count" db:"failover_count"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at" db:"updated_at"`
}
