package enums

import "fmt"

// PaymentKind distinguishes the contract flavor backing a payment record.
type PaymentKind string

const (
	PaymentKindSingle    PaymentKind = "single"
	PaymentKindBatchItem PaymentKind = "batch_item"
	PaymentKindRecurring PaymentKind = "recurring"
	PaymentKindInstant   PaymentKind = "instant"
)

var validPaymentKinds = []PaymentKind{
	PaymentKindSingle,
	PaymentKindBatchItem,
	PaymentKindRecurring,
	PaymentKindInstant,
}

// String implements fmt.Stringer.
func (p PaymentKind) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentKind.
func (p PaymentKind) IsValid() bool {
	for _, candidate := range validPaymentKinds {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsRecurring reports whether the payment releases in installments.
func (p PaymentKind) IsRecurring() bool {
	return p == PaymentKindRecurring
}

// ParsePaymentKind converts raw input into a PaymentKind.
func ParsePaymentKind(value string) (PaymentKind, error) {
	for _, candidate := range validPaymentKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment kind %q", value)
}
