package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paystream-keeper/pkg/db/models"
	"github.com/angelmondragon/paystream-keeper/pkg/enums"
	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
)

// Repo implements Store directly against the ledger database. Used when the
// keeper runs next to Postgres instead of going through the REST service.
type Repo struct {
	db *gorm.DB
}

// NewRepo wraps a gorm handle.
func NewRepo(db *gorm.DB) (*Repo, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "db handle is required")
	}
	return &Repo{db: db}, nil
}

func (r *Repo) DueFor(ctx context.Context, now time.Time) ([]models.ScheduledPayment, error) {
	var rows []models.ScheduledPayment
	err := r.db.WithContext(ctx).
		Where("status = ? AND release_time <= ?", enums.PaymentStatusPending, now.Unix()).
		Order("release_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query due payments")
	}
	return rows, nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*models.ScheduledPayment, error) {
	var row models.ScheduledPayment
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("payment %s not found", id))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return &row, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) error {
	return r.casUpdate(ctx, id, from, to, map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	})
}

func (r *Repo) MarkExecuted(ctx context.Context, id uuid.UUID, txHash string, executedAt time.Time) error {
	if txHash == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction hash is required")
	}
	return r.casUpdate(ctx, id, enums.PaymentStatusPending, enums.PaymentStatusExecuted, map[string]any{
		"status":            enums.PaymentStatusExecuted,
		"execution_tx_hash": txHash,
		"executed_at":       executedAt.UTC(),
		"updated_at":        time.Now().UTC(),
	})
}

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.WithContext(ctx).DB()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger db handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger db unreachable")
	}
	return nil
}

// casUpdate applies updates only while the row still holds the expected
// prior status. A zero-row update distinguishes a missing row from a lost
// race by re-reading.
func (r *Repo) casUpdate(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, updates map[string]any) error {
	if !from.CanTransitionTo(to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("illegal status transition %s -> %s", from, to))
	}

	res := r.db.WithContext(ctx).
		Model(&models.ScheduledPayment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update payment status")
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("payment %s is no longer %s", id, from))
	}
	return nil
}
