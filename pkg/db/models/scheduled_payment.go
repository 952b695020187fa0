package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paystream-keeper/pkg/enums"
)

// DefaultRecurringInterval is the production installment spacing (30 days).
const DefaultRecurringInterval = 2_592_000

// ScheduledPayment is one payment intent awaiting on-chain release. The same
// struct serves the Postgres repository (gorm tags) and the REST ledger client
// (json tags match the ledger's column names).
type ScheduledPayment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Kind            enums.PaymentKind   `gorm:"column:kind;not null;default:'single'" json:"kind"`
	ContractAddress string              `gorm:"column:contract_address;not null" json:"contract_address"`
	Payer           string              `gorm:"column:payer;not null" json:"payer"`
	Payee           string              `gorm:"column:payee;not null" json:"payee"`
	Amount          string              `gorm:"column:amount;type:numeric;not null" json:"amount"`
	TokenAddress    string              `gorm:"column:token_address;not null" json:"token_address"`
	AmountDecimals  int                 `gorm:"column:amount_decimals;not null;default:18" json:"amount_decimals"`
	ReleaseTime     int64               `gorm:"column:release_time;not null" json:"release_time"`
	Status          enums.PaymentStatus `gorm:"column:status;not null;default:'pending'" json:"status"`
	Cancellable     bool                `gorm:"column:cancellable;not null;default:false" json:"cancellable"`
	ExecutionTxHash *string             `gorm:"column:execution_tx_hash" json:"execution_tx_hash,omitempty"`
	ExecutedAt      *time.Time          `gorm:"column:executed_at" json:"executed_at,omitempty"`

	// Recurring-only columns. The contract remains the source of truth for
	// executed installments and cancellation; these bound projection math.
	MonthlyAmount    *string `gorm:"column:monthly_amount;type:numeric" json:"monthly_amount,omitempty"`
	TotalMonths      *int    `gorm:"column:total_months" json:"total_months,omitempty"`
	FirstPaymentTime *int64  `gorm:"column:first_payment_time" json:"first_payment_time,omitempty"`
	IntervalSeconds  *int64  `gorm:"column:interval_seconds" json:"interval_seconds,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName pins the ledger table name.
func (ScheduledPayment) TableName() string { return "scheduled_payments" }

// AmountBig parses the payout amount into integer smallest units.
func (p ScheduledPayment) AmountBig() (*big.Int, error) {
	value, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q for payment %s", p.Amount, p.ID)
	}
	return value, nil
}

// ReleaseAt returns the ledger's cached release time as a time.Time.
func (p ScheduledPayment) ReleaseAt() time.Time {
	return time.Unix(p.ReleaseTime, 0).UTC()
}

// Interval returns the installment spacing, defaulting to 30 days.
func (p ScheduledPayment) Interval() int64 {
	if p.IntervalSeconds != nil && *p.IntervalSeconds > 0 {
		return *p.IntervalSeconds
	}
	return DefaultRecurringInterval
}

// IsRecurring reports whether the payment releases in installments.
func (p ScheduledPayment) IsRecurring() bool {
	return p.Kind.IsRecurring()
}
