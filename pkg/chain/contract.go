package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
)

// Amounts is the fee split locked inside a payment contract.
type Amounts struct {
	AmountToPayee *big.Int
	ProtocolFee   *big.Int
	TotalLocked   *big.Int
}

// Receipt is the confirmed outcome of a release transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// PaymentContract exposes one deployed payment contract. Reads are
// side-effect-free; Release is the only write and is never retried here.
type PaymentContract struct {
	op      *Operator
	address common.Address
}

// Address returns the bound contract address in checksum form.
func (c *PaymentContract) Address() string {
	return c.address.Hex()
}

// Released reports whether the contract already paid out.
func (c *PaymentContract) Released(ctx context.Context) (bool, error) {
	return c.readBool(ctx, "released")
}

// Cancelled reports whether the payer cancelled before release.
func (c *PaymentContract) Cancelled(ctx context.Context) (bool, error) {
	return c.readBool(ctx, "cancelled")
}

// ReleaseTime reads the contract's release timestamp (unix seconds). The
// contract, not the ledger's cached copy, is authoritative.
func (c *PaymentContract) ReleaseTime(ctx context.Context) (int64, error) {
	value, err := c.readUint(ctx, "releaseTime")
	if err != nil {
		return 0, err
	}
	return value.Int64(), nil
}

// Amounts reads the payee/fee/total split locked on-chain.
func (c *PaymentContract) Amounts(ctx context.Context) (Amounts, error) {
	data, err := c.call(ctx, "getAmounts")
	if err != nil {
		return Amounts{}, err
	}
	values, err := paymentABI.Unpack("getAmounts", data)
	if err != nil || len(values) != 3 {
		return Amounts{}, pkgerrors.Wrap(pkgerrors.CodeChainRead, err, "decoding getAmounts response")
	}
	payee, okA := values[0].(*big.Int)
	fee, okB := values[1].(*big.Int)
	total, okC := values[2].(*big.Int)
	if !okA || !okB || !okC {
		return Amounts{}, pkgerrors.New(pkgerrors.CodeChainRead, "unexpected getAmounts types")
	}
	return Amounts{AmountToPayee: payee, ProtocolFee: fee, TotalLocked: total}, nil
}

// MonthsPaid reads the number of installments the recurring contract executed.
func (c *PaymentContract) MonthsPaid(ctx context.Context) (int64, error) {
	value, err := c.readUint(ctx, "monthsPaid")
	if err != nil {
		return 0, err
	}
	return value.Int64(), nil
}

// NextPaymentTime reads when the next installment becomes due on-chain.
func (c *PaymentContract) NextPaymentTime(ctx context.Context) (int64, error) {
	value, err := c.readUint(ctx, "nextPaymentTime")
	if err != nil {
		return 0, err
	}
	return value.Int64(), nil
}

// CanExecute asks the recurring contract whether the next installment is
// executable right now (time reached, balance and months remaining).
func (c *PaymentContract) CanExecute(ctx context.Context) (bool, error) {
	return c.readBool(ctx, "canExecute")
}

// TotalMonthsRemaining reads the remaining installment count.
func (c *PaymentContract) TotalMonthsRemaining(ctx context.Context) (int64, error) {
	value, err := c.readUint(ctx, "getTotalMonthsRemaining")
	if err != nil {
		return 0, err
	}
	return value.Int64(), nil
}

// Release signs and submits the release() call, then waits for the receipt.
// A revert surfaces as CodeChainRevert; callers re-read released/cancelled to
// distinguish "already settled" from a hard failure.
func (c *PaymentContract) Release(ctx context.Context) (*Receipt, error) {
	op := c.op
	txData, err := paymentABI.Pack("release")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "packing release call")
	}

	callCtx, cancel := context.WithTimeout(ctx, op.cfg.CallTimeout)
	defer cancel()

	nonce, err := op.client.PendingNonceAt(callCtx, op.address)
	if err != nil {
		return nil, ClassifyError(err, "fetching pending nonce")
	}

	gasTipCap, err := op.client.SuggestGasTipCap(callCtx)
	if err != nil {
		return nil, ClassifyError(err, "suggesting gas tip cap")
	}

	header, err := op.client.HeaderByNumber(callCtx, nil)
	if err != nil {
		return nil, ClassifyError(err, "fetching chain head")
	}
	if header.BaseFee == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "chain head missing base fee; network may not support EIP-1559")
	}

	// 2x base fee + tip, same headroom the rest of our infra uses.
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	gasLimit, err := op.client.EstimateGas(callCtx, ethereum.CallMsg{
		From: op.address,
		To:   &c.address,
		Data: txData,
	})
	if err != nil {
		// Estimation runs the call; a revert here usually means already
		// settled or underfunded. Classified terminal either way.
		return nil, pkgerrors.Wrap(pkgerrors.CodeGasEstimation, err, "estimating release gas")
	}
	gasLimit = gasLimit * 120 / 100
	if op.cfg.GasLimitCeiling > 0 && gasLimit > op.cfg.GasLimitCeiling {
		return nil, pkgerrors.New(pkgerrors.CodeGasEstimation, "release gas exceeds configured ceiling").
			WithDetails(map[string]any{"estimate": gasLimit, "ceiling": op.cfg.GasLimitCeiling})
	}

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   op.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &c.address,
		Value:     big.NewInt(0),
		Data:      txData,
	})

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewLondonSigner(op.chainID), op.key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "signing release transaction")
	}

	if err := op.client.SendTransaction(callCtx, signedTx); err != nil {
		return nil, ClassifyError(err, "sending release transaction")
	}

	return c.waitReceipt(ctx, signedTx.Hash())
}

func (c *PaymentContract) waitReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	op := c.op
	waitCtx, cancel := context.WithTimeout(ctx, op.cfg.ConfirmTimeout)
	defer cancel()

	poll := op.cfg.ReceiptPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		receipt, err := op.client.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return nil, pkgerrors.New(pkgerrors.CodeChainRevert, "release transaction reverted").
					WithDetails(map[string]any{"tx_hash": txHash.Hex()})
			}
			return &Receipt{
				TxHash:      txHash.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}

		select {
		case <-waitCtx.Done():
			// Outcome unknown: the tx may still confirm. The next tick's
			// on-chain re-check resolves it.
			return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, waitCtx.Err(),
				fmt.Sprintf("timed out waiting for receipt of %s", txHash.Hex()))
		case <-ticker.C:
		}
	}
}

func (c *PaymentContract) call(ctx context.Context, method string) ([]byte, error) {
	data, err := paymentABI.Pack(method)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "packing "+method)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.op.cfg.CallTimeout)
	defer cancel()
	out, err := c.op.client.CallContract(callCtx, ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, ClassifyError(err, "calling "+method)
	}
	return out, nil
}

func (c *PaymentContract) readBool(ctx context.Context, method string) (bool, error) {
	data, err := c.call(ctx, method)
	if err != nil {
		return false, err
	}
	values, err := paymentABI.Unpack(method, data)
	if err != nil || len(values) != 1 {
		return false, pkgerrors.Wrap(pkgerrors.CodeChainRead, err, "decoding "+method+" response")
	}
	value, ok := values[0].(bool)
	if !ok {
		return false, pkgerrors.New(pkgerrors.CodeChainRead, "unexpected "+method+" type")
	}
	return value, nil
}

func (c *PaymentContract) readUint(ctx context.Context, method string) (*big.Int, error) {
	data, err := c.call(ctx, method)
	if err != nil {
		return nil, err
	}
	values, err := paymentABI.Unpack(method, data)
	if err != nil || len(values) != 1 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeChainRead, err, "decoding "+method+" response")
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeChainRead, "unexpected "+method+" type")
	}
	return value, nil
}
