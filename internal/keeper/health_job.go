package keeper

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/paystream-keeper/internal/ledger"
	"github.com/angelmondragon/paystream-keeper/pkg/logger"
	"github.com/angelmondragon/paystream-keeper/pkg/metrics"
)

// BalanceReader reads the operator wallet's native balance.
type BalanceReader interface {
	OperatorBalance(ctx context.Context) (*big.Int, error)
}

// Pinger checks reachability of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthJobParams configure the dependency health job.
type HealthJobParams struct {
	Logger  *logger.Logger
	Store   ledger.Store
	Redis   Pinger
	Chain   BalanceReader
	Metrics *metrics.KeeperMetrics
	// MinBalance is the operator balance below which execution pauses.
	// Nil disables the threshold; a zero balance still degrades health.
	MinBalance *big.Int
	// Interval throttles full checks while healthy. A degraded keeper
	// re-checks every tick so recovery is not delayed. Zero disables
	// throttling.
	Interval time.Duration
}

// HealthJob verifies the ledger, redis, and the operator wallet every
// tick. Its verdict gates the execution job: a keeper that cannot pay gas
// or record outcomes must not attempt releases.
type HealthJob struct {
	logg       *logger.Logger
	store      ledger.Store
	redis      Pinger
	chain      BalanceReader
	metrics    *metrics.KeeperMetrics
	minBalance *big.Int
	interval   time.Duration
	healthy    atomic.Bool
	lastRun    time.Time
	now        func() time.Time
}

// NewHealthJob builds the health job. The keeper starts healthy; the
// first run corrects that if a dependency is down.
func NewHealthJob(params HealthJobParams) (*HealthJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if params.Chain == nil {
		return nil, fmt.Errorf("balance reader required")
	}
	job := &HealthJob{
		logg:       params.Logger,
		store:      params.Store,
		redis:      params.Redis,
		chain:      params.Chain,
		metrics:    params.Metrics,
		minBalance: params.MinBalance,
		interval:   params.Interval,
		now:        time.Now,
	}
	job.healthy.Store(true)
	return job, nil
}

func (j *HealthJob) Name() string { return "dependency-health" }

// Healthy reports the verdict of the most recent run. Wired into the
// execution job's gate and the /healthz endpoint.
func (j *HealthJob) Healthy() bool {
	return j.healthy.Load()
}

func (j *HealthJob) Run(ctx context.Context) error {
	now := j.now()
	if j.interval > 0 && j.healthy.Load() && !j.lastRun.IsZero() && now.Sub(j.lastRun) < j.interval {
		return nil
	}
	j.lastRun = now

	var errs []error

	if err := j.store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ledger unreachable: %w", err))
	}
	if j.redis != nil {
		if err := j.redis.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis unreachable: %w", err))
		}
	}
	if err := j.checkBalance(ctx); err != nil {
		errs = append(errs, err)
	}

	healthy := len(errs) == 0
	j.healthy.Store(healthy)
	j.metrics.SetHealthy(healthy)
	if !healthy {
		j.logg.Warn(ctx, "keeper degraded; execution paused until checks pass")
	}
	return multierr.Combine(errs...)
}

func (j *HealthJob) checkBalance(ctx context.Context) error {
	balance, err := j.chain.OperatorBalance(ctx)
	if err != nil {
		return fmt.Errorf("read operator balance: %w", err)
	}
	j.metrics.SetOperatorBalance(balance)

	if balance.Sign() == 0 {
		return fmt.Errorf("operator balance is zero; cannot pay gas")
	}
	if j.minBalance != nil && j.minBalance.Sign() > 0 && balance.Cmp(j.minBalance) < 0 {
		bctx := j.logg.WithFields(ctx, map[string]any{
			"balance_wei": balance.String(),
			"minimum_wei": j.minBalance.String(),
		})
		j.logg.Warn(bctx, "operator balance below minimum")
		return fmt.Errorf("operator balance %s below minimum %s", balance, j.minBalance)
	}
	return nil
}
