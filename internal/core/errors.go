package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Handlers map these to
// HTTP status codes; everything else surfaces as an internal error.
var (
	// ErrNotFound covers missing jobs, mutations, templates and clients.
	ErrNotFound = errors.New("not found")

	// ErrJobState rejects a command the job's current state does not
	// allow, e.g. cancelling a completed job.
	ErrJobState = errors.New("job state does not allow operation")

	// ErrTenantScope rejects a call referencing records outside the
	// caller's tenant. The whole call fails before any mutation.
	ErrTenantScope = errors.New("record outside tenant scope")

	// ErrReversal rejects reversing a mutation that is missing,
	// non-reversible or already reversed.
	ErrReversal = errors.New("mutation cannot be reversed")

	// ErrUnknownField rejects a mapping that targets a field outside the
	// closed registry of target fields.
	ErrUnknownField = errors.New("unknown target field")

	// ErrVersionConflict is returned by stores when an optimistic version
	// check fails. During bulk mutation it surfaces as that id's
	// individual failure.
	ErrVersionConflict = errors.New("version conflict")

	// ErrBadRequest covers malformed command payloads.
	ErrBadRequest = errors.New("bad request")
)

// ParseError is fatal: the file is unreadable in its declared format and
// no job progress is possible.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s", e.Reason)
}

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
