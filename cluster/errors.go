package cluster

import "errors"

// Failure taxonomy shared by every component. Callers branch with errors.Is
// to choose partial-failure handling per call site.
var (
	// ErrTimeout: a remote command or allocation wait exceeded its bound.
	// Callers abort and roll back whatever was created upstream.
	ErrTimeout = errors.New("external operation timed out")

	// ErrParseMismatch: an expected confirmation line was absent or
	// changed shape. Hard failure: it means the external tool's output
	// contract changed, and must never be silently ignored.
	ErrParseMismatch = errors.New("expected output not recognized")

	// ErrPortExhausted: no free local port in the probe window.
	ErrPortExhausted = errors.New("no free local port in probe window")

	// ErrNotFound: the target job or session does not exist. A
	// user-facing error on kill/status paths, not a crash.
	ErrNotFound = errors.New("not found")
)
