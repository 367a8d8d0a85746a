package distro

import "errors"

var (
	// ErrReconcileInProgress is returned when a checksum message arrives from a
	// source whose previous message is still being processed
	ErrReconcileInProgress = errors.New("reconciliation already in progress for source")

	// ErrProtocolViolation is returned when a peer reports checksums for keys
	// this node owns
	ErrProtocolViolation = errors.New("received checksum for locally owned key")

	ErrUnknownRetryPolicy = errors.New("unknown retry policy")
	ErrUnknownAnalyzer    = errors.New("unknown key analyzer")
	ErrStopped            = errors.New("distro protocol stopped")
)
