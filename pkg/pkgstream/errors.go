package pkgstream

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a DownloadError by the stage of the pipeline that raised
// it, matching the taxonomy a host needs to decide whether staging is safe
// to resume.
type Kind int

const (
	// KindTransport covers HTTP collaborator faults: unknown length,
	// negative read codes, premature close.
	KindTransport Kind = iota
	// KindFormat covers binary-layout faults: bad magic, content-ID
	// mismatch, oversized head, unsupported content/key type, truncated
	// meta table, index_size mismatch, item sequencing.
	KindFormat
	// KindIO covers filesystem collaborator faults: mkdirs, create,
	// write, save.
	KindIO
	// KindIntegrity covers the final SHA-256 mismatch.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFormat:
		return "format"
	case KindIO:
		return "io"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// DownloadError is the single failure type the core returns (cancellation
// is reported with the separate Canceled sentinel). It carries a Kind for
// programmatic dispatch and wraps the underlying cause (if any) so
// errors.Cause / errors.Unwrap still reach it.
type DownloadError struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *DownloadError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *DownloadError) Unwrap() error { return e.cause }

// Cause lets github.com/pkg/errors.Cause walk past the DownloadError.
func (e *DownloadError) Cause() error { return e.cause }

func newErr(kind Kind, msg string) error {
	return &DownloadError{Kind: kind, Message: msg}
}

func wrapErr(kind Kind, cause error, msg string) error {
	if cause == nil {
		return newErr(kind, msg)
	}
	return &DownloadError{Kind: kind, Message: msg, cause: errors.WithStack(cause)}
}

func wrapErrf(kind Kind, cause error, format string, args ...any) error {
	return wrapErr(kind, cause, fmt.Sprintf(format, args...))
}

// IsKind reports whether err is a *DownloadError of the given kind.
func IsKind(err error, kind Kind) bool {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
