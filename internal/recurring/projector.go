package recurring

import (
	"fmt"

	"github.com/angelmondragon/paystream-keeper/pkg/db/models"
)

// Projector math is pure and off-chain. It bounds how much work a tick will
// attempt and feeds diagnostics; the contract's own canExecute/monthsPaid
// views stay authoritative for what is actually executable.

// InstallmentTimestamp returns the unix time of the k-th installment
// (k zero-based): first_payment_time + k * interval_seconds.
func InstallmentTimestamp(payment models.ScheduledPayment, k int) (int64, error) {
	if err := validate(payment); err != nil {
		return 0, err
	}
	if k < 0 {
		return 0, fmt.Errorf("installment index %d out of range", k)
	}
	if payment.TotalMonths != nil && *payment.TotalMonths > 0 && k >= *payment.TotalMonths {
		return 0, fmt.Errorf("installment index %d exceeds total months %d", k, *payment.TotalMonths)
	}
	return *payment.FirstPaymentTime + int64(k)*payment.Interval(), nil
}

// InstallmentsDue counts how many installments have reached their timestamp
// by now, capped at the bounded total when one is set.
func InstallmentsDue(payment models.ScheduledPayment, now int64) (int, error) {
	if err := validate(payment); err != nil {
		return 0, err
	}
	first := *payment.FirstPaymentTime
	if now < first {
		return 0, nil
	}
	due := int((now-first)/payment.Interval()) + 1
	if payment.TotalMonths != nil && *payment.TotalMonths > 0 && due > *payment.TotalMonths {
		due = *payment.TotalMonths
	}
	return due, nil
}

// PendingInstallments reports how many due installments the contract has not
// executed yet, given its on-chain monthsPaid reading.
func PendingInstallments(payment models.ScheduledPayment, now int64, monthsPaid int) (int, error) {
	due, err := InstallmentsDue(payment, now)
	if err != nil {
		return 0, err
	}
	pending := due - monthsPaid
	if pending < 0 {
		return 0, nil
	}
	return pending, nil
}

func validate(payment models.ScheduledPayment) error {
	if !payment.IsRecurring() {
		return fmt.Errorf("payment %s is not recurring", payment.ID)
	}
	if payment.FirstPaymentTime == nil {
		return fmt.Errorf("recurring payment %s missing first payment time", payment.ID)
	}
	if payment.Interval() <= 0 {
		return fmt.Errorf("recurring payment %s has non-positive interval", payment.ID)
	}
	return nil
}
