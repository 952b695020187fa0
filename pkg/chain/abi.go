package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// paymentContractJSON is the read/write surface the keeper depends on. Single,
// batch and instant contracts expose the first five entries; recurring
// contracts additionally expose the installment views.
const paymentContractJSON = `[
	{"type": "function", "name": "releaseTime", "inputs": [], "outputs": [{"type": "uint256"}], "stateMutability": "view"},
	{"type": "function", "name": "released", "inputs": [], "outputs": [{"type": "bool"}], "stateMutability": "view"},
	{"type": "function", "name": "cancelled", "inputs": [], "outputs": [{"type": "bool"}], "stateMutability": "view"},
	{"type": "function", "name": "getAmounts", "inputs": [], "outputs": [
		{"name": "amountToPayee", "type": "uint256"},
		{"name": "protocolFee", "type": "uint256"},
		{"name": "totalLocked", "type": "uint256"}
	], "stateMutability": "view"},
	{"type": "function", "name": "release", "inputs": [], "outputs": []},
	{"type": "function", "name": "monthsPaid", "inputs": [], "outputs": [{"type": "uint256"}], "stateMutability": "view"},
	{"type": "function", "name": "nextPaymentTime", "inputs": [], "outputs": [{"type": "uint256"}], "stateMutability": "view"},
	{"type": "function", "name": "canExecute", "inputs": [], "outputs": [{"type": "bool"}], "stateMutability": "view"},
	{"type": "function", "name": "getTotalMonthsRemaining", "inputs": [], "outputs": [{"type": "uint256"}], "stateMutability": "view"}
]`

var paymentABI = mustParseABI(paymentContractJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid payment contract ABI: " + err.Error())
	}
	return parsed
}
