package fees

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Protocol fee rates in basis points.
const (
	StandardRateBps int64 = 179
	ProRateBps      int64 = 100

	bpsDenominator int64 = 10_000
)

// Quote is a fee split for one payment. AmountToPayee + ProtocolFee always
// equals TotalRequired.
type Quote struct {
	AmountToPayee *big.Int
	ProtocolFee   *big.Int
	TotalRequired *big.Int
}

// RateFor returns the basis-point rate for an account tier.
func RateFor(proAccount bool) int64 {
	if proAccount {
		return ProRateBps
	}
	return StandardRateBps
}

// QuoteAmount sizes the on-chain lock for a requested payout amount.
// protocolFee = floor(amount * rate / 10000); rounding always favors the
// payer, so the protocol never over-collects past the rounding unit.
func QuoteAmount(amount *big.Int, rateBps int64) (Quote, error) {
	if err := validate(amount, rateBps); err != nil {
		return Quote{}, err
	}
	fee := new(big.Int).Mul(amount, big.NewInt(rateBps))
	fee.Div(fee, big.NewInt(bpsDenominator))
	total := new(big.Int).Add(amount, fee)
	return Quote{
		AmountToPayee: new(big.Int).Set(amount),
		ProtocolFee:   fee,
		TotalRequired: total,
	}, nil
}

// PayeeFromTotal derives the largest payee amount fundable by a total the
// payer is willing to lock. The result re-quotes to a TotalRequired <= total.
func PayeeFromTotal(total *big.Int, rateBps int64) (Quote, error) {
	if err := validate(total, rateBps); err != nil {
		return Quote{}, err
	}
	payee := new(big.Int).Mul(total, big.NewInt(bpsDenominator))
	payee.Div(payee, big.NewInt(bpsDenominator+rateBps))

	// Integer division can undershoot by one unit; take the largest payee
	// whose quote still fits under the cap.
	for {
		candidate := new(big.Int).Add(payee, big.NewInt(1))
		quote, err := QuoteAmount(candidate, rateBps)
		if err != nil {
			return Quote{}, err
		}
		if quote.TotalRequired.Cmp(total) > 0 {
			break
		}
		payee = candidate
	}
	return QuoteAmount(payee, rateBps)
}

// Display renders a smallest-unit amount using the token's decimals,
// e.g. Display(1500000, 6) == "1.5".
func Display(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

func validate(amount *big.Int, rateBps int64) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("amount must be a non-negative integer")
	}
	if rateBps < 0 || rateBps >= bpsDenominator {
		return fmt.Errorf("rate %d bps out of range [0, %d)", rateBps, bpsDenominator)
	}
	return nil
}
