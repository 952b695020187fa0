package keeper

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paystream-keeper/pkg/db/models"
	"github.com/angelmondragon/paystream-keeper/pkg/enums"
	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
	"github.com/angelmondragon/paystream-keeper/pkg/logger"
)

type pingStore struct {
	err error
}

func (p *pingStore) DueFor(context.Context, time.Time) ([]models.ScheduledPayment, error) {
	return nil, nil
}

func (p *pingStore) Get(context.Context, uuid.UUID) (*models.ScheduledPayment, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "not found")
}

func (p *pingStore) UpdateStatus(context.Context, uuid.UUID, enums.PaymentStatus, enums.PaymentStatus) error {
	return nil
}

func (p *pingStore) MarkExecuted(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

func (p *pingStore) Ping(context.Context) error { return p.err }

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fakeBalanceReader struct {
	balance *big.Int
	err     error
}

func (f *fakeBalanceReader) OperatorBalance(context.Context) (*big.Int, error) {
	return f.balance, f.err
}

func newHealthJobTest(t *testing.T, store *pingStore, redis Pinger, balance *fakeBalanceReader, min *big.Int) *HealthJob {
	t.Helper()
	job, err := NewHealthJob(HealthJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "keeper-test"}),
		Store:      store,
		Redis:      redis,
		Chain:      balance,
		MinBalance: min,
	})
	if err != nil {
		t.Fatalf("construct health job: %v", err)
	}
	return job
}

func TestHealthJob_AllChecksPass(t *testing.T) {
	job := newHealthJobTest(t, &pingStore{}, &fakePinger{},
		&fakeBalanceReader{balance: big.NewInt(1_000_000)}, big.NewInt(100))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !job.Healthy() {
		t.Fatal("expected healthy verdict")
	}
}

func TestHealthJob_ZeroBalanceDegrades(t *testing.T) {
	job := newHealthJobTest(t, &pingStore{}, &fakePinger{},
		&fakeBalanceReader{balance: big.NewInt(0)}, nil)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error for zero balance")
	}
	if job.Healthy() {
		t.Fatal("zero balance must degrade health")
	}
}

func TestHealthJob_BalanceBelowMinimumDegrades(t *testing.T) {
	job := newHealthJobTest(t, &pingStore{}, &fakePinger{},
		&fakeBalanceReader{balance: big.NewInt(50)}, big.NewInt(100))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error below minimum balance")
	}
	if job.Healthy() {
		t.Fatal("low balance must degrade health")
	}
}

func TestHealthJob_LedgerDownDegrades(t *testing.T) {
	store := &pingStore{err: pkgerrors.New(pkgerrors.CodeDependency, "ledger down")}
	job := newHealthJobTest(t, store, &fakePinger{},
		&fakeBalanceReader{balance: big.NewInt(1_000_000)}, nil)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error when ledger is down")
	}
	if job.Healthy() {
		t.Fatal("unreachable ledger must degrade health")
	}
}

func TestHealthJob_RecoversAfterFix(t *testing.T) {
	balance := &fakeBalanceReader{balance: big.NewInt(0)}
	job := newHealthJobTest(t, &pingStore{}, &fakePinger{}, balance, nil)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected degraded first run")
	}
	balance.balance = big.NewInt(1_000_000)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !job.Healthy() {
		t.Fatal("expected recovery after the wallet is funded")
	}
}

func TestHealthJob_ThrottlesWhileHealthy(t *testing.T) {
	balance := &fakeBalanceReader{balance: big.NewInt(1_000_000)}
	job, err := NewHealthJob(HealthJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "keeper-test"}),
		Store:    &pingStore{},
		Chain:    balance,
		Interval: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("construct health job: %v", err)
	}
	base := time.Unix(testNow, 0)
	job.now = func() time.Time { return base }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Within the interval the wallet draining is not noticed yet.
	balance.balance = big.NewInt(0)
	job.now = func() time.Time { return base.Add(time.Minute) }
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("throttled run should not re-check: %v", err)
	}
	if !job.Healthy() {
		t.Fatal("verdict must not change on a throttled run")
	}

	// Past the interval the check runs and degrades.
	job.now = func() time.Time { return base.Add(6 * time.Minute) }
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected degradation after the interval elapsed")
	}

	// Degraded keepers re-check every tick regardless of the interval.
	balance.balance = big.NewInt(1_000_000)
	job.now = func() time.Time { return base.Add(6*time.Minute + time.Second) }
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("degraded run must re-check immediately: %v", err)
	}
	if !job.Healthy() {
		t.Fatal("expected recovery")
	}
}

func TestHealthJob_RedisOptional(t *testing.T) {
	job := newHealthJobTest(t, &pingStore{}, nil,
		&fakeBalanceReader{balance: big.NewInt(1_000_000)}, nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run without redis: %v", err)
	}
	if !job.Healthy() {
		t.Fatal("expected healthy verdict without redis")
	}
}
