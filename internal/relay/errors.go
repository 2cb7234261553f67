package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gaslessgamefi/relay/internal/metatx"
	"github.com/gaslessgamefi/relay/internal/network"
)

// SubmissionRejectedError is returned when the signer refuses or fails to
// broadcast the envelope.
type SubmissionRejectedError struct {
	Network string
	Reason  string
	Err     error
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("Relay failed: submission rejected on %s: %s", e.Network, e.Reason)
}

func (e *SubmissionRejectedError) Unwrap() error {
	return e.Err
}

// ConfirmationTimeoutError is returned when a submitted transaction has no
// receipt within the confirmation window. The transaction may still land.
type ConfirmationTimeoutError struct {
	Network string
	TxHash  common.Hash
	Timeout time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf(
		"transaction %s on %s not confirmed within %s; it may still be included",
		e.TxHash.Hex(), e.Network, e.Timeout,
	)
}

// RevertedError is returned when the transaction was included but failed.
type RevertedError struct {
	Network     string
	TxHash      common.Hash
	BlockNumber uint64
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf(
		"Relay failed: transaction %s reverted on %s in block %d",
		e.TxHash.Hex(), e.Network, e.BlockNumber,
	)
}

// NetworkError wraps a failed read against a network's node.
type NetworkError struct {
	Network string
	Op      string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Network, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsReportable reports whether err describes the request or its outcome
// and may be returned to the caller verbatim. Anything else is internal.
func IsReportable(err error) bool {
	var (
		rejected *SubmissionRejectedError
		timeout  *ConfirmationTimeoutError
		reverted *RevertedError
		node     *NetworkError
	)

	return errors.Is(err, network.ErrUnknownNetwork) ||
		metatx.IsValidationError(err) ||
		errors.As(err, &rejected) ||
		errors.As(err, &timeout) ||
		errors.As(err, &reverted) ||
		errors.As(err, &node)
}
