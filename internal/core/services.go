package core

import (
	"time"

	temporalclient "go.temporal.io/sdk/client"
)

type Services struct {
	Project     *ProjectService
	Team        *TeamService
	Usage       *UsageService
	Admission   *AdmissionController
	Deployment  *DeploymentService
	Region      *RegionService
	Failover    *FailoverController
	Replication *ReplicationService
	APIKey      *APIKeyService
}

// Options configures policy knobs that vary per installation.
type Options struct {
	AdmissionPolicy       AdmissionPolicy
	ReplicationLagCeiling time.Duration
	ReplicationFreshness  time.Duration
}

func NewServices(db DB, tc temporalclient.Client, opts Options) *Services {
	if opts.AdmissionPolicy == "" {
		opts.AdmissionPolicy = PolicySupersede
	}
	if opts.ReplicationLagCeiling == 0 {
		opts.ReplicationLagCeiling = 5 * time.Minute
	}
	if opts.ReplicationFreshness == 0 {
		opts.ReplicationFreshness = time.Minute
	}

	usage := NewUsageService(db)
	admission := NewAdmissionController(db, opts.AdmissionPolicy)
	regions := NewRegionService(db)

	return &Services{
		Project:     NewProjectService(db),
		Team:        NewTeamService(db),
		Usage:       usage,
		Admission:   admission,
		Deployment:  NewDeploymentService(db, tc, admission, usage),
		Region:      regions,
		Failover:    NewFailoverController(db, regions),
		Replication: NewReplicationService(db, opts.ReplicationLagCeiling, opts.ReplicationFreshness),
		APIKey:      NewAPIKeyService(db),
	}
}
