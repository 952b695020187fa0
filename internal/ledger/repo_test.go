package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/paystream-keeper/pkg/db/models"
	"github.com/angelmondragon/paystream-keeper/pkg/enums"
	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS scheduled_payments (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  contract_address TEXT NOT NULL,
  payer TEXT NOT NULL,
  payee TEXT NOT NULL,
  amount TEXT NOT NULL,
  token_address TEXT NOT NULL,
  amount_decimals INTEGER NOT NULL,
  release_time INTEGER NOT NULL,
  status TEXT NOT NULL,
  cancellable INTEGER NOT NULL DEFAULT 0,
  execution_tx_hash TEXT,
  executed_at DATETIME,
  monthly_amount TEXT,
  total_months INTEGER,
  first_payment_time INTEGER,
  interval_seconds INTEGER,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	require.NoError(t, db.Exec("DELETE FROM scheduled_payments").Error)
	return db
}

func seedPayment(t *testing.T, db *gorm.DB, status enums.PaymentStatus, releaseTime int64) models.ScheduledPayment {
	t.Helper()

	payment := models.ScheduledPayment{
		ID:              uuid.New(),
		Kind:            enums.PaymentKindSingle,
		ContractAddress: "0x1111111111111111111111111111111111111111",
		Payer:           "0x2222222222222222222222222222222222222222",
		Payee:           "0x3333333333333333333333333333333333333333",
		Amount:          "1000000",
		TokenAddress:    "0x4444444444444444444444444444444444444444",
		AmountDecimals:  6,
		ReleaseTime:     releaseTime,
		Status:          status,
	}
	require.NoError(t, db.Create(&payment).Error)
	return payment
}

func TestRepo_DueFor(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	late := seedPayment(t, db, enums.PaymentStatusPending, now.Unix()-10)
	early := seedPayment(t, db, enums.PaymentStatusPending, now.Unix()-500)
	seedPayment(t, db, enums.PaymentStatusPending, now.Unix()+60)
	seedPayment(t, db, enums.PaymentStatusExecuted, now.Unix()-500)

	due, err := repo.DueFor(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)
}

func TestRepo_DueFor_BoundaryIsDue(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	exact := seedPayment(t, db, enums.PaymentStatusPending, now.Unix())

	due, err := repo.DueFor(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, exact.ID, due[0].ID)
}

func TestRepo_UpdateStatus(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)
	ctx := context.Background()

	payment := seedPayment(t, db, enums.PaymentStatusPending, 100)
	require.NoError(t, repo.UpdateStatus(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusCancelled))

	got, err := repo.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCancelled, got.Status)
}

func TestRepo_UpdateStatus_LostRace(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)
	ctx := context.Background()

	payment := seedPayment(t, db, enums.PaymentStatusCancelled, 100)

	err = repo.UpdateStatus(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusExecuted)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))

	got, err := repo.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCancelled, got.Status)
}

func TestRepo_UpdateStatus_NotFound(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)

	err = repo.UpdateStatus(context.Background(), uuid.New(), enums.PaymentStatusPending, enums.PaymentStatusExecuted)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestRepo_UpdateStatus_IllegalTransition(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)

	payment := seedPayment(t, db, enums.PaymentStatusExecuted, 100)

	err = repo.UpdateStatus(context.Background(), payment.ID, enums.PaymentStatusExecuted, enums.PaymentStatusPending)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestRepo_MarkExecuted(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)
	ctx := context.Background()

	payment := seedPayment(t, db, enums.PaymentStatusPending, 100)
	executedAt := time.Unix(1_700_000_100, 0)
	txHash := "0xabc123"

	require.NoError(t, repo.MarkExecuted(ctx, payment.ID, txHash, executedAt))

	got, err := repo.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusExecuted, got.Status)
	require.NotNil(t, got.ExecutionTxHash)
	assert.Equal(t, txHash, *got.ExecutionTxHash)
	require.NotNil(t, got.ExecutedAt)
	assert.True(t, got.ExecutedAt.Equal(executedAt.UTC()))
}

func TestRepo_MarkExecuted_RequiresHash(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)

	payment := seedPayment(t, db, enums.PaymentStatusPending, 100)

	err = repo.MarkExecuted(context.Background(), payment.ID, "", time.Now())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestRepo_MarkExecuted_AlreadyExecuted(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo, err := NewRepo(db)
	require.NoError(t, err)

	payment := seedPayment(t, db, enums.PaymentStatusExecuted, 100)

	err = repo.MarkExecuted(context.Background(), payment.ID, "0xdef", time.Now())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}
