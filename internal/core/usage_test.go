package core

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/shipyard/internal/model"
)

func planRow(limit int64) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "plan-free"
		*(dest[1].(*string)) = "free"
		*(dest[2].(*int64)) = limit
		*(dest[3].(*int64)) = limit
		*(dest[4].(*int64)) = limit
		*(dest[5].(*int64)) = limit
		*(dest[6].(*time.Time)) = time.Now()
		return nil
	}}
}

func TestUsageService_Reserve_AtLimitAllowed(t *testing.T) {
	db := &mockDB{}
	svc := NewUsageService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM plans")
	}), mock.Anything).Return(planRow(100)).Once()
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT")
	}), mock.Anything).Return(cmdTag(1), nil).Once()
	// The guarded increment fits (100 used of 100 after adding 1 at 99).
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "deployments + $3 <= $4")
	}), mock.Anything).Return(cmdTag(1), nil).Once()

	err := svc.Reserve(ctx, "user-1", model.MetricDeployments, 1)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestUsageService_Reserve_OverLimitRejected(t *testing.T) {
	db := &mockDB{}
	svc := NewUsageService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM plans")
	}), mock.Anything).Return(planRow(100)).Once()
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT")
	}), mock.Anything).Return(cmdTag(1), nil).Once()
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "deployments + $3 <= $4")
	}), mock.Anything).Return(cmdTag(0), nil).Once()
	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "SELECT deployments FROM usage_records")
	}), mock.Anything).Return(&mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = 100
		return nil
	}}).Once()

	err := svc.Reserve(ctx, "user-1", model.MetricDeployments, 1)
	require.Error(t, err)

	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, int64(100), quotaErr.Current)
	assert.Equal(t, int64(100), quotaErr.Limit)
	assert.Equal(t, CodeQuotaExceeded, ErrorCode(err))
	db.AssertExpectations(t)
}

func TestUsageService_Reserve_UnlimitedNeverExceeded(t *testing.T) {
	db := &mockDB{}
	svc := NewUsageService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM plans")
	}), mock.Anything).Return(planRow(model.UnlimitedQuota)).Once()
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT")
	}), mock.Anything).Return(cmdTag(1), nil).Once()
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "$4::bigint = -1")
	}), mock.Anything).Return(cmdTag(1), nil).Once()

	// Usage magnitude is irrelevant under an unlimited plan.
	err := svc.Reserve(ctx, "user-1", model.MetricDeployments, 1_000_000_000)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestUsageService_Reserve_RejectsBadInput(t *testing.T) {
	svc := NewUsageService(&mockDB{})
	ctx := context.Background()

	err := svc.Reserve(ctx, "user-1", "cpu_seconds", 1)
	assert.Equal(t, CodeValidation, ErrorCode(err))

	err = svc.Reserve(ctx, "user-1", model.MetricDeployments, 0)
	assert.Equal(t, CodeValidation, ErrorCode(err))

	err = svc.Reserve(ctx, "user-1", model.MetricDeployments, -5)
	assert.Equal(t, CodeValidation, ErrorCode(err))
}

// fakeCounterDB applies the guarded-update semantics of the real store:
// the check and increment happen under one lock, exactly as the row lock
// serializes the UPDATE in Postgres.
type fakeCounterDB struct {
	mu      sync.Mutex
	counter int64
	limit   int64
}

func (f *fakeCounterDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "ON CONFLICT") {
		return cmdTag(0), nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	amount := args[2].(int64)
	if strings.Contains(sql, "GREATEST") {
		f.counter -= amount
		if f.counter < 0 {
			f.counter = 0
		}
		return cmdTag(1), nil
	}
	limit := args[3].(int64)
	if limit == model.UnlimitedQuota || f.counter+amount <= limit {
		f.counter += amount
		return cmdTag(1), nil
	}
	return cmdTag(0), nil
}

func (f *fakeCounterDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeCounterDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "FROM plans") {
		limit := f.limit
		return &mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "plan-free"
			*(dest[1].(*string)) = "free"
			*(dest[2].(*int64)) = limit
			*(dest[3].(*int64)) = limit
			*(dest[4].(*int64)) = limit
			*(dest[5].(*int64)) = limit
			*(dest[6].(*time.Time)) = time.Now()
			return nil
		}}
	}
	f.mu.Lock()
	current := f.counter
	f.mu.Unlock()
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = current
		return nil
	}}
}

func TestUsageService_Reserve_ConcurrentAdmitsExactlyOne(t *testing.T) {
	db := &fakeCounterDB{counter: 99, limit: 100}
	svc := NewUsageService(db)
	ctx := context.Background()

	const racers = 5
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Reserve(ctx, "user-1", model.MetricDeployments, 1)
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range results {
		if err == nil {
			admitted++
		} else {
			var quotaErr *QuotaExceededError
			require.ErrorAs(t, err, &quotaErr)
		}
	}
	assert.Equal(t, 1, admitted, "exactly one racer may take the last unit")
	assert.Equal(t, int64(100), db.counter, "counter must end at the limit, never past it")
}

func TestUsageService_Reserve_PlanUpgradeLiftsQuota(t *testing.T) {
	db := &fakeCounterDB{counter: 100, limit: 100}
	svc := NewUsageService(db)
	ctx := context.Background()

	err := svc.Reserve(ctx, "user-1", model.MetricDeployments, 1)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, int64(100), quotaErr.Current)
	assert.Equal(t, int64(100), quotaErr.Limit)

	// The limit is read from the plan on every reservation, so an upgrade
	// takes effect on the next call with no counter reset.
	db.limit = 1000
	require.NoError(t, svc.Reserve(ctx, "user-1", model.MetricDeployments, 1))
	assert.Equal(t, int64(101), db.counter)
}

func TestUsageService_Refund_ClampsAtZero(t *testing.T) {
	db := &fakeCounterDB{counter: 3, limit: 100}
	svc := NewUsageService(db)
	ctx := context.Background()

	require.NoError(t, svc.Refund(ctx, "user-1", model.MetricDeployments, 10))
	assert.Equal(t, int64(0), db.counter)
}

func TestUsagePercentage(t *testing.T) {
	assert.Equal(t, 50.0, UsagePercentage(50, 100))
	assert.Equal(t, 100.0, UsagePercentage(100, 100))
	assert.Equal(t, 100.0, UsagePercentage(250, 100), "clamped above")
	assert.Equal(t, 0.0, UsagePercentage(-10, 100), "clamped below")

	// Zero limit: 100 once anything is used, 0 with no usage.
	assert.Equal(t, 100.0, UsagePercentage(1, 0))
	assert.Equal(t, 0.0, UsagePercentage(0, 0))

	// Unlimited plans always read as 0.
	assert.Equal(t, 0.0, UsagePercentage(1e12, -1))

	// Non-finite input never propagates.
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		pct := UsagePercentage(v, 100)
		assert.False(t, math.IsNaN(pct) || math.IsInf(pct, 0))
		assert.Equal(t, 0.0, pct)

		pct = UsagePercentage(50, v)
		assert.False(t, math.IsNaN(pct) || math.IsInf(pct, 0))
	}
}

func TestSanitizeAmount(t *testing.T) {
	v, err := SanitizeAmount(42.9)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = SanitizeAmount(math.NaN())
	assert.Equal(t, CodeValidation, ErrorCode(err))

	_, err = SanitizeAmount(math.Inf(1))
	assert.Equal(t, CodeValidation, ErrorCode(err))

	_, err = SanitizeAmount(-1)
	assert.Equal(t, CodeValidation, ErrorCode(err))
}
