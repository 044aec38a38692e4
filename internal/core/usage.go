package core

import (
	"context"
	"fmt"
	"math"

	"github.com/edvin/shipyard/internal/model"
)

// UsageService meters per-user counters against plan quotas. The
// check-and-increment is a single guarded UPDATE so concurrent reservations
// on the same (user, period) counter cannot race past the limit.
type UsageService struct {
	db DB
}

func NewUsageService(db DB) *UsageService {
	return &UsageService{db: db}
}

// Reserve atomically increments the metric by amount if the plan limit
// permits. Returns QuotaExceededError with the current counter and limit
// when the reservation does not fit. A limit of -1 always admits.
func (s *UsageService) Reserve(ctx context.Context, userID string, metric model.UsageMetric, amount int64) error {
	if _, err := model.ParseUsageMetric(string(metric)); err != nil {
		return &ValidationError{Field: "metric", Reason: err.Error()}
	}
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	limit, err := s.planLimit(ctx, userID, metric)
	if err != nil {
		return err
	}

	period := model.CurrentPeriod(nowFunc())
	if err := s.ensureRecord(ctx, userID, period); err != nil {
		return err
	}

	// Single-statement compare-and-increment. The WHERE clause is evaluated
	// against the row under the row lock, so five racing reservations at
	// 99/100 admit exactly one.
	query := fmt.Sprintf(
		`UPDATE usage_records
		 SET %[1]s = %[1]s + $3, updated_at = now()
		 WHERE user_id = $1 AND period = $2 AND ($4::bigint = -1 OR %[1]s + $3 <= $4)`,
		metric,
	)
	tag, err := s.db.Exec(ctx, query, userID, period, amount, limit)
	if err != nil {
		return fmt.Errorf("reserve %s for %s: %w", metric, userID, err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.counter(ctx, userID, period, metric)
		if err != nil {
			return err
		}
		return &QuotaExceededError{UserID: userID, Metric: string(metric), Current: current, Limit: limit}
	}
	return nil
}

// Refund decrements the metric, clamped at zero. Counters never go negative.
func (s *UsageService) Refund(ctx context.Context, userID string, metric model.UsageMetric, amount int64) error {
	if _, err := model.ParseUsageMetric(string(metric)); err != nil {
		return &ValidationError{Field: "metric", Reason: err.Error()}
	}
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	period := model.CurrentPeriod(nowFunc())
	query := fmt.Sprintf(
		`UPDATE usage_records
		 SET %[1]s = GREATEST(%[1]s - $3, 0), updated_at = now()
		 WHERE user_id = $1 AND period = $2`,
		metric,
	)
	if _, err := s.db.Exec(ctx, query, userID, period, amount); err != nil {
		return fmt.Errorf("refund %s for %s: %w", metric, userID, err)
	}
	return nil
}

// Record adds already-consumed usage to a metric with no quota check. Work
// that has happened (build minutes burned, bandwidth served) is always
// counted, even when the counter lands past the plan limit; only admission
// of new work goes through Reserve.
func (s *UsageService) Record(ctx context.Context, userID string, metric model.UsageMetric, amount int64) error {
	if _, err := model.ParseUsageMetric(string(metric)); err != nil {
		return &ValidationError{Field: "metric", Reason: err.Error()}
	}
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	period := model.CurrentPeriod(nowFunc())
	if err := s.ensureRecord(ctx, userID, period); err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE usage_records
		 SET %[1]s = %[1]s + $3, updated_at = now()
		 WHERE user_id = $1 AND period = $2`,
		metric,
	)
	if _, err := s.db.Exec(ctx, query, userID, period, amount); err != nil {
		return fmt.Errorf("record %s for %s: %w", metric, userID, err)
	}
	return nil
}

// Get returns the user's usage record for the current period. A missing row
// is reported as all-zero counters rather than an error.
func (s *UsageService) Get(ctx context.Context, userID string) (*model.UsageRecord, error) {
	period := model.CurrentPeriod(nowFunc())
	var rec model.UsageRecord
	err := s.db.QueryRow(ctx,
		`SELECT user_id, period, deployments, build_minutes, bandwidth_mb, function_invocations, updated_at
		 FROM usage_records WHERE user_id = $1 AND period = $2`, userID, period,
	).Scan(&rec.UserID, &rec.Period, &rec.Deployments, &rec.BuildMinutes,
		&rec.BandwidthMB, &rec.FunctionInvocations, &rec.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return &model.UsageRecord{UserID: userID, Period: period}, nil
		}
		return nil, fmt.Errorf("get usage for %s: %w", userID, err)
	}
	return &rec, nil
}

// GetPlan returns the user's current plan.
func (s *UsageService) GetPlan(ctx context.Context, userID string) (*model.Plan, error) {
	var p model.Plan
	err := s.db.QueryRow(ctx,
		`SELECT p.id, p.name, p.deployments, p.build_minutes, p.bandwidth_mb, p.function_invocations, p.created_at
		 FROM plans p JOIN users u ON u.plan_id = p.id WHERE u.id = $1`, userID,
	).Scan(&p.ID, &p.Name, &p.Deployments, &p.BuildMinutes, &p.BandwidthMB, &p.FunctionInvocations, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get plan for user %s: %w", userID, err)
	}
	return &p, nil
}

func (s *UsageService) planLimit(ctx context.Context, userID string, metric model.UsageMetric) (int64, error) {
	plan, err := s.GetPlan(ctx, userID)
	if err != nil {
		return 0, err
	}
	return plan.Limit(metric), nil
}

func (s *UsageService) ensureRecord(ctx context.Context, userID, period string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO usage_records (user_id, period, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id, period) DO NOTHING`, userID, period)
	if err != nil {
		return fmt.Errorf("ensure usage record for %s/%s: %w", userID, period, err)
	}
	return nil
}

func (s *UsageService) counter(ctx context.Context, userID, period string, metric model.UsageMetric) (int64, error) {
	var current int64
	query := fmt.Sprintf(`SELECT %s FROM usage_records WHERE user_id = $1 AND period = $2`, metric)
	err := s.db.QueryRow(ctx, query, userID, period).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("read %s counter for %s: %w", metric, userID, err)
	}
	return current, nil
}

// UsagePercentage reports how much of a limit is used, clamped to [0,100].
// The result is always finite: a zero limit reads as 100 once anything is
// used and 0 otherwise, and non-finite usage input is treated as zero (the
// display fails open; enforcement never accepts non-finite amounts).
func UsagePercentage(used, limit float64) float64 {
	if math.IsNaN(used) || math.IsInf(used, 0) {
		used = 0
	}
	if limit == float64(model.UnlimitedQuota) || math.IsNaN(limit) || math.IsInf(limit, 0) {
		return 0
	}
	if limit == 0 {
		if used > 0 {
			return 100
		}
		return 0
	}
	pct := used / limit * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// SanitizeAmount converts an externally supplied quantity into a meterable
// amount, rejecting non-finite and negative values outright.
func SanitizeAmount(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: "amount", Reason: "must be finite"}
	}
	if v < 0 {
		return 0, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	return int64(v), nil
}
