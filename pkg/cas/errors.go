package cas

import "errors"

// Sentinel errors for the anchoring pipeline. Components return these (or
// wrap them with fmt.Errorf("...: %w", err)) so callers can branch with
// errors.Is instead of matching on message text, per the error taxonomy.
var (
	// ErrNotFound is returned by store lookups that find nothing.
	ErrNotFound = errors.New("cas: not found")

	// ErrMutexUnavailable means another CAS instance holds the transaction
	// advisory lock.
	ErrMutexUnavailable = errors.New("cas: transaction mutex unavailable")

	// ErrTreeTooLarge means the candidate set exceeds the configured Merkle
	// depth bound.
	ErrTreeTooLarge = errors.New("cas: candidate set exceeds merkle depth bound")

	// ErrInsufficientFunds means the wallet cannot cover gasLimit*maxFeePerGas.
	ErrInsufficientFunds = errors.New("cas: insufficient funds for anchor transaction")

	// ErrWrongChain means the provider returned a chain ID other than the
	// one the client was configured for.
	ErrWrongChain = errors.New("cas: unexpected chain id")

	// ErrSubmissionFailed means all submission retries were exhausted.
	ErrSubmissionFailed = errors.New("cas: anchor transaction submission failed")

	// ErrAnchorPublishError means persisting or publishing one anchor commit
	// failed; non-fatal to the batch.
	ErrAnchorPublishError = errors.New("cas: failed to publish anchor commit")

	// ErrCancelled is returned when a cancellation signal fires before
	// on-chain submission.
	ErrCancelled = errors.New("cas: operation cancelled")

	// ConflictResolutionRejectionMessage is the sentinel string stored on a
	// FAILED request's message column when its commit was superseded
	// upstream. It is intentionally string-matched (not a typed error)
	// because it round-trips through the database.
	ConflictResolutionRejectionMessage = "conflict resolution rejected"
)

// IsConflictResolutionRejection reports whether a FAILED request's message
// is the conflict-resolution sentinel, making it ineligible for retry.
func IsConflictResolutionRejection(message string) bool {
	return message == ConflictResolutionRejectionMessage
}
