package model

import (
	"fmt"
	"time"
)

// UsageMetric names a metered counter on a usage record.
type UsageMetric string

const (
	MetricDeployments         UsageMetric = "deployments"
	MetricBuildMinutes        UsageMetric = "build_minutes"
	MetricBandwidthMB         UsageMetric = "bandwidth_mb"
	MetricFunctionInvocations UsageMetric = "function_invocations"
)

// ParseUsageMetric validates a metric token. Metric names double as column
// names, so anything unrecognized is rejected before query construction.
func ParseUsageMetric(s string) (UsageMetric, error) {
	switch UsageMetric(s) {
	case MetricDeployments, MetricBuildMinutes, MetricBandwidthMB, MetricFunctionInvocations:
		return UsageMetric(s), nil
	}
	return "", fmt.Errorf("unknown usage metric %q", s)
}

// UnlimitedQuota marks a plan limit as unbounded.
const UnlimitedQuota int64 = -1

// UsageRecord holds one billing period's counters for a user. One row per
// (user, period); created lazily, never deleted within its period.
type UsageRecord struct {
	UserID              string    `json:"user_id" db:"user_id"`
	Period              string    `json:"period" db:"period"` // YYYY-MM
	Deployments         int64     `json:"deployments" db:"deployments"`
	BuildMinutes        int64     `json:"build_minutes" db:"build_minutes"`
	BandwidthMB         int64     `json:"bandwidth_mb" db:"bandwidth_mb"`
	FunctionInvocations int64     `json:"function_invocations" db:"function_invocations"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Counter returns the value of the named metric.
func (u *UsageRecord) Counter(metric UsageMetric) int64 {
	switch metric {
	case MetricDeployments:
		return u.Deployments
	case MetricBuildMinutes:
		return u.BuildMinutes
	case MetricBandwidthMB:
		return u.BandwidthMB
	case MetricFunctionInvocations:
		return u.FunctionInvocations
	}
	return 0
}

// Plan defines per-metric quota limits. A limit of UnlimitedQuota (-1)
// means the metric is never exceeded.
type Plan struct {
	ID                  string    `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	Deployments         int64     `json:"deployments" db:"deployments"`
	BuildMinutes        int64     `json:"build_minutes" db:"build_minutes"`
	BandwidthMB         int64     `json:"bandwidth_mb" db:"bandwidth_mb"`
	FunctionInvocations int64     `json:"function_invocations" db:"function_invocations"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// Limit returns the plan's limit for the named metric.
func (p *Plan) Limit(metric UsageMetric) int64 {
	switch metric {
	case MetricDeployments:
		return p.Deployments
	case MetricBuildMinutes:
		return p.BuildMinutes
	case MetricBandwidthMB:
		return p.BandwidthMB
	case MetricFunctionInvocations:
		return p.FunctionInvocations
	}
	return 0
}

// CurrentPeriod returns the billing period key for a point in time.
func CurrentPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
