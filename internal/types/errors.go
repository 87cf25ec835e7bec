package types

import "errors"

// Error taxonomy. Scanner-level errors are absorbed into run outcomes and
// never fail a review; session errors are returned to clients.
var (
	ErrScannerUnavailable            = errors.New("scanner unavailable")
	ErrScannerTimeout                = errors.New("scanner timed out")
	ErrScannerOutputUnparsable       = errors.New("scanner output unparsable")
	ErrSessionBusy                   = errors.New("session busy")
	ErrUnknownSession                = errors.New("unknown session")
	ErrOrchestrationDeadlineExceeded = errors.New("orchestration deadline exceeded")
	ErrNoScannersAvailable           = errors.New("no scanners available")
)
