package chat

import "errors"

// Sentinel errors returned by the pipeline. Handlers map these to the
// client-facing contract; everything else surfaces as a generic failure
// with internals logged, never leaked.
var (
	// ErrValidation marks a malformed request, rejected before any side
	// effect. The wrapped detail is safe to show the caller.
	ErrValidation = errors.New("invalid chat request")

	// ErrQuotaExceeded marks a request rejected by the quota ledger.
	// The accompanying Result carries the decision (remaining=0, limit).
	ErrQuotaExceeded = errors.New("daily message limit reached")

	// ErrGeneration marks a failed generation call. If the stream had
	// already started, delivered fragments stand and the stream simply
	// ends early; nothing is retried.
	ErrGeneration = errors.New("generation failed")
)
