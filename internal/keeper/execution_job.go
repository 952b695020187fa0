package keeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/paystream-keeper/internal/fees"
	"github.com/angelmondragon/paystream-keeper/internal/ledger"
	"github.com/angelmondragon/paystream-keeper/internal/recurring"
	"github.com/angelmondragon/paystream-keeper/pkg/chain"
	"github.com/angelmondragon/paystream-keeper/pkg/db/models"
	"github.com/angelmondragon/paystream-keeper/pkg/enums"
	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
	"github.com/angelmondragon/paystream-keeper/pkg/logger"
	"github.com/angelmondragon/paystream-keeper/pkg/metrics"
)

// PaymentContract is the slice of the chain contract binding the job uses.
type PaymentContract interface {
	Released(ctx context.Context) (bool, error)
	Cancelled(ctx context.Context) (bool, error)
	ReleaseTime(ctx context.Context) (int64, error)
	Amounts(ctx context.Context) (chain.Amounts, error)
	MonthsPaid(ctx context.Context) (int64, error)
	CanExecute(ctx context.Context) (bool, error)
	Release(ctx context.Context) (*chain.Receipt, error)
}

// ContractOpener binds payment contracts by address.
type ContractOpener interface {
	OpenContract(address string) (PaymentContract, error)
}

// OperatorGateway adapts the chain operator to ContractOpener.
type OperatorGateway struct {
	Operator *chain.Operator
}

func (g OperatorGateway) OpenContract(address string) (PaymentContract, error) {
	return g.Operator.Contract(address)
}

// FeeRates are the protocol rates the job audits locked fee splits
// against. Zero values fall back to the calculator's defaults.
type FeeRates struct {
	StandardBps int64
	ProBps      int64
}

// ExecutionJobParams configure the payment execution job.
type ExecutionJobParams struct {
	Logger  *logger.Logger
	Store   ledger.Store
	Chain   ContractOpener
	Metrics *metrics.KeeperMetrics
	Fees    FeeRates
	// Gate, when set, is consulted before processing; a false verdict
	// skips the tick. Wired to the health job so a drained operator
	// wallet pauses execution instead of burning gas on failures.
	Gate func() bool
}

// NewExecutionJob builds the job that releases due payments.
func NewExecutionJob(params ExecutionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if params.Chain == nil {
		return nil, fmt.Errorf("contract opener required")
	}
	rates := params.Fees
	if rates.StandardBps == 0 {
		rates.StandardBps = fees.StandardRateBps
	}
	if rates.ProBps == 0 {
		rates.ProBps = fees.ProRateBps
	}
	return &executionJob{
		logg:    params.Logger,
		store:   params.Store,
		chain:   params.Chain,
		metrics: params.Metrics,
		rates:   rates,
		gate:    params.Gate,
		now:     time.Now,
	}, nil
}

type executionJob struct {
	logg    *logger.Logger
	store   ledger.Store
	chain   ContractOpener
	metrics *metrics.KeeperMetrics
	rates   FeeRates
	gate    func() bool
	now     func() time.Time
}

func (j *executionJob) Name() string { return "payment-execution" }

// Run fetches due payments and walks each through the settlement decision.
// One payment's failure never aborts the batch; errors are combined so the
// tick still reports them.
func (j *executionJob) Run(ctx context.Context) error {
	if j.gate != nil && !j.gate() {
		j.logg.Warn(ctx, "execution paused by health check")
		return nil
	}

	now := j.now().UTC()
	due, err := j.store.DueFor(ctx, now)
	if err != nil {
		return fmt.Errorf("load due payments: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	j.logg.Info(j.logg.WithField(ctx, "due", len(due)), "processing due payments")

	var errs []error
	for _, payment := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := j.processPayment(ctx, payment, now); err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
		}
	}
	return multierr.Combine(errs...)
}

func (j *executionJob) processPayment(ctx context.Context, payment models.ScheduledPayment, now time.Time) error {
	pctx := j.logg.WithPaymentID(ctx, payment.ID.String())
	pctx = j.logg.WithContractAddress(pctx, payment.ContractAddress)
	if amount, err := payment.AmountBig(); err == nil {
		pctx = j.logg.WithField(pctx, "amount", fees.Display(amount, payment.AmountDecimals))
	}

	contract, err := j.chain.OpenContract(payment.ContractAddress)
	if err != nil {
		// A malformed address can never settle; no retry will fix it.
		j.logg.Error(pctx, "unusable contract address", err)
		j.markFailed(pctx, payment)
		return err
	}

	if payment.IsRecurring() {
		return j.processRecurring(pctx, payment, contract, now)
	}
	return j.processSingle(pctx, payment, contract, now)
}

// processSingle settles a one-shot payment. The contract is read fresh
// before any write: the chain, not the ledger row, decides what happens.
func (j *executionJob) processSingle(ctx context.Context, payment models.ScheduledPayment, contract PaymentContract, now time.Time) error {
	released, err := contract.Released(ctx)
	if err != nil {
		j.retry(ctx, "read released state", err)
		return err
	}
	if released {
		// Settled on chain but still pending in the ledger: a previous
		// tick died between the transaction and the write. Catch up.
		j.catchUp(ctx, payment)
		return nil
	}

	cancelled, err := contract.Cancelled(ctx)
	if err != nil {
		j.retry(ctx, "read cancelled state", err)
		return err
	}
	if cancelled {
		j.markCancelled(ctx, payment)
		return nil
	}

	releaseTime, err := contract.ReleaseTime(ctx)
	if err != nil {
		j.retry(ctx, "read release time", err)
		return err
	}
	if releaseTime > now.Unix() {
		// The ledger said due but the contract disagrees; trust the
		// contract and come back next tick.
		j.skip(ctx, "contract release time not reached")
		return nil
	}

	j.auditFees(ctx, contract)

	receipt, err := contract.Release(ctx)
	if err != nil {
		return j.handleReleaseError(ctx, payment, contract, err)
	}
	return j.recordExecution(ctx, payment, receipt, now)
}

// processRecurring advances at most one installment per tick. The
// contract's canExecute and monthsPaid are authoritative; the ledger row
// only bounds the projection.
func (j *executionJob) processRecurring(ctx context.Context, payment models.ScheduledPayment, contract PaymentContract, now time.Time) error {
	cancelled, err := contract.Cancelled(ctx)
	if err != nil {
		j.retry(ctx, "read cancelled state", err)
		return err
	}
	if cancelled {
		j.markCancelled(ctx, payment)
		return nil
	}

	monthsPaid, err := contract.MonthsPaid(ctx)
	if err != nil {
		j.retry(ctx, "read months paid", err)
		return err
	}
	if payment.TotalMonths != nil && monthsPaid >= int64(*payment.TotalMonths) {
		// Every installment already went out on chain.
		j.catchUp(ctx, payment)
		return nil
	}

	canExecute, err := contract.CanExecute(ctx)
	if err != nil {
		j.retry(ctx, "read can-execute", err)
		return err
	}
	if !canExecute {
		j.skip(ctx, "contract reports no installment executable")
		return nil
	}

	// The projection is diagnostics only. canExecute already said an
	// installment is executable and the contract decides; a ledger
	// schedule lagging the contract must not delay the release.
	if pending, perr := recurring.PendingInstallments(payment, now.Unix(), int(monthsPaid)); perr != nil {
		j.logg.Warn(j.logg.WithField(ctx, "error", perr.Error()), "installment projection unavailable")
	} else {
		ctx = j.logg.WithField(ctx, "projected_pending", pending)
		if pending <= 0 {
			j.logg.Warn(ctx, "ledger schedule lags the contract")
		}
	}

	receipt, err := contract.Release(ctx)
	if err != nil {
		return j.handleRecurringReleaseError(ctx, payment, contract, monthsPaid, err)
	}

	final := payment.TotalMonths != nil && monthsPaid+1 >= int64(*payment.TotalMonths)
	ictx := j.logg.WithFields(ctx, map[string]any{
		"tx_hash":     receipt.TxHash,
		"installment": monthsPaid + 1,
		"final":       final,
	})
	if !final {
		// Mid-stream installments leave the row pending for the next one.
		j.logg.Info(ictx, "installment released")
		j.metrics.IncPayment(metrics.OutcomeExecuted)
		return nil
	}
	return j.recordExecution(ictx, payment, receipt, now)
}

// isTerminalReleaseCode reports whether a release error can never
// succeed on retry. Anything ambiguous (timeouts, nonce races, RPC
// trouble) leaves the row pending and lets the next tick's contract
// re-read resolve it.
func isTerminalReleaseCode(code pkgerrors.Code) bool {
	switch code {
	case pkgerrors.CodeChainRevert, pkgerrors.CodeInsufficientFunds, pkgerrors.CodeGasEstimation:
		return true
	}
	return false
}

// handleReleaseError routes a failed release attempt. A revert can mean
// another actor settled the contract between our pre-write read and the
// transaction, so the contract is re-read before recording failed:
// failed is terminal and would bury a settled payment.
func (j *executionJob) handleReleaseError(ctx context.Context, payment models.ScheduledPayment, contract PaymentContract, err error) error {
	if !isTerminalReleaseCode(pkgerrors.CodeOf(err)) {
		j.retry(ctx, "release attempt", err)
		return err
	}

	released, rerr := contract.Released(ctx)
	if rerr != nil {
		j.retry(ctx, "re-read after failed release", rerr)
		return err
	}
	if released {
		j.catchUp(ctx, payment)
		return nil
	}
	cancelled, rerr := contract.Cancelled(ctx)
	if rerr != nil {
		j.retry(ctx, "re-read after failed release", rerr)
		return err
	}
	if cancelled {
		j.markCancelled(ctx, payment)
		return nil
	}

	j.logg.Error(ctx, "release failed terminally", err)
	j.markFailed(ctx, payment)
	return err
}

// handleRecurringReleaseError is the recurring counterpart: a concurrent
// actor shows up as cancellation or as monthsPaid moving past the value
// read before the attempt.
func (j *executionJob) handleRecurringReleaseError(ctx context.Context, payment models.ScheduledPayment, contract PaymentContract, priorMonthsPaid int64, err error) error {
	if !isTerminalReleaseCode(pkgerrors.CodeOf(err)) {
		j.retry(ctx, "release attempt", err)
		return err
	}

	cancelled, rerr := contract.Cancelled(ctx)
	if rerr != nil {
		j.retry(ctx, "re-read after failed release", rerr)
		return err
	}
	if cancelled {
		j.markCancelled(ctx, payment)
		return nil
	}
	monthsPaid, rerr := contract.MonthsPaid(ctx)
	if rerr != nil {
		j.retry(ctx, "re-read after failed release", rerr)
		return err
	}
	if monthsPaid > priorMonthsPaid {
		// Someone else took this installment. The row either completes
		// or stays pending for the next tick to advance.
		if payment.TotalMonths != nil && monthsPaid >= int64(*payment.TotalMonths) {
			j.catchUp(ctx, payment)
		} else {
			j.skip(ctx, "installment settled concurrently")
		}
		return nil
	}

	j.logg.Error(ctx, "release failed terminally", err)
	j.markFailed(ctx, payment)
	return err
}

// auditFees checks the contract's locked fee split against the
// configured protocol rates. Mismatches are reported, never enforced:
// the funds are already locked and the chain decides what pays out.
func (j *executionJob) auditFees(ctx context.Context, contract PaymentContract) {
	amounts, err := contract.Amounts(ctx)
	if err != nil || amounts.AmountToPayee == nil || amounts.ProtocolFee == nil {
		return
	}
	for _, rate := range []int64{j.rates.StandardBps, j.rates.ProBps} {
		quote, qerr := fees.QuoteAmount(amounts.AmountToPayee, rate)
		if qerr == nil && quote.ProtocolFee.Cmp(amounts.ProtocolFee) == 0 {
			return
		}
	}
	j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
		"amount_to_payee": amounts.AmountToPayee.String(),
		"protocol_fee":    amounts.ProtocolFee.String(),
	}), "locked fee split matches no configured rate")
}

// recordExecution writes the confirmed release to the ledger. A write
// failure here is safe: the contract's released flag makes the next tick
// a catch-up, never a double release.
func (j *executionJob) recordExecution(ctx context.Context, payment models.ScheduledPayment, receipt *chain.Receipt, now time.Time) error {
	err := j.store.MarkExecuted(ctx, payment.ID, receipt.TxHash, now)
	if err != nil && !isCASLoss(err) {
		j.logg.Error(ctx, "executed on chain but ledger write failed", err)
		j.metrics.IncPayment(metrics.OutcomeExecuted)
		return err
	}
	j.logg.Info(j.logg.WithField(ctx, "tx_hash", receipt.TxHash), "payment executed")
	j.metrics.IncPayment(metrics.OutcomeExecuted)
	return nil
}

// catchUp marks the row executed without a fresh transaction hash. Used
// when the chain shows the payment settled in some earlier, unrecorded
// attempt.
func (j *executionJob) catchUp(ctx context.Context, payment models.ScheduledPayment) {
	err := j.store.UpdateStatus(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusExecuted)
	if err != nil && !isCASLoss(err) {
		j.logg.Error(ctx, "catch-up write failed", err)
		return
	}
	j.logg.Info(ctx, "payment already settled on chain; ledger caught up")
	j.metrics.IncPayment(metrics.OutcomeCaughtUp)
}

func (j *executionJob) markCancelled(ctx context.Context, payment models.ScheduledPayment) {
	err := j.store.UpdateStatus(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusCancelled)
	if err != nil && !isCASLoss(err) {
		j.logg.Error(ctx, "cancellation write failed", err)
		return
	}
	j.logg.Info(ctx, "payment cancelled on chain; ledger updated")
	j.metrics.IncPayment(metrics.OutcomeCancelled)
}

func (j *executionJob) markFailed(ctx context.Context, payment models.ScheduledPayment) {
	err := j.store.UpdateStatus(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusFailed)
	if err != nil && !isCASLoss(err) {
		j.logg.Error(ctx, "failure write failed", err)
		return
	}
	j.metrics.IncPayment(metrics.OutcomeFailed)
}

func (j *executionJob) retry(ctx context.Context, step string, err error) {
	rctx := j.logg.WithFields(ctx, map[string]any{"step": step, "error": err.Error()})
	j.logg.Warn(rctx, "transient failure; will retry next tick")
	j.metrics.IncPayment(metrics.OutcomeRetried)
}

func (j *executionJob) skip(ctx context.Context, reason string) {
	j.logg.Info(j.logg.WithField(ctx, "reason", reason), "payment skipped this tick")
	j.metrics.IncPayment(metrics.OutcomeSkipped)
}

// isCASLoss reports whether a status write lost the compare-and-swap to a
// concurrent writer. That is a success for idempotency purposes: the row
// already reached a terminal state.
func isCASLoss(err error) bool {
	code := pkgerrors.CodeOf(err)
	return code == pkgerrors.CodeConflict || code == pkgerrors.CodeStateConflict
}
