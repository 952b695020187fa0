package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paystream-keeper/pkg/db/models"
	"github.com/angelmondragon/paystream-keeper/pkg/enums"
)

// Store is the system of record for payment intents. Both implementations
// (REST ledger service, direct Postgres) guard status writes with a
// compare-and-swap on the expected prior status so concurrent keepers and
// user-initiated cancellations lose races cleanly instead of clobbering
// terminal states.
type Store interface {
	// DueFor returns pending payments with release_time <= now, earliest
	// first. Always a fresh read; nothing is cached between ticks.
	DueFor(ctx context.Context, now time.Time) ([]models.ScheduledPayment, error)

	// Get fetches a single payment by id.
	Get(ctx context.Context, id uuid.UUID) (*models.ScheduledPayment, error)

	// UpdateStatus transitions id from the expected prior status to the
	// target status. Fails with CodeStateConflict on an illegal transition,
	// CodeConflict when the row no longer holds the prior status, and
	// CodeNotFound when the row is missing.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) error

	// MarkExecuted transitions a pending payment to executed and records
	// the confirmed transaction hash and execution time, with the same
	// compare-and-swap semantics as UpdateStatus.
	MarkExecuted(ctx context.Context, id uuid.UUID, txHash string, executedAt time.Time) error

	// Ping verifies the ledger is reachable; used by the health check.
	Ping(ctx context.Context) error
}
