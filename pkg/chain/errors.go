package chain

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
)

// ClassifyError maps raw RPC failures onto the keeper's error taxonomy.
// Transient network and rate-limit failures stay retryable; reverts and
// underfunded sends become terminal for the payment being processed.
func ClassifyError(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, message)
	}

	lowered := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowered, "insufficient funds"):
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, err, message)
	case strings.Contains(lowered, "execution reverted"),
		strings.Contains(lowered, "always failing transaction"):
		return pkgerrors.Wrap(pkgerrors.CodeChainRevert, err, message)
	case strings.Contains(lowered, "gas required exceeds allowance"),
		strings.Contains(lowered, "intrinsic gas too low"):
		return pkgerrors.Wrap(pkgerrors.CodeGasEstimation, err, message)
	case strings.Contains(lowered, "nonce too low"),
		strings.Contains(lowered, "replacement transaction underpriced"),
		strings.Contains(lowered, "already known"):
		// Another in-flight tx from the operator account; resolved by the
		// next tick's re-check.
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, message)
	case strings.Contains(lowered, "429"),
		strings.Contains(lowered, "too many requests"),
		strings.Contains(lowered, "timeout"),
		strings.Contains(lowered, "connection refused"),
		strings.Contains(lowered, "connection reset"),
		strings.Contains(lowered, "no such host"),
		strings.Contains(lowered, "eof"):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeChainRead, err, message)
}
