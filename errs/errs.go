// Package errs defines the sentinel error kinds shared across the ext4 decoder,
// the journal reader and the undelete engine.
package errs

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", Kind) at the call site
// so callers can still errors.Is against the kind while getting a specific message.
var (
	// IoError marks a failure in the underlying byte-window reader.
	IoError = errors.New("io error")
	// FormatError marks a magic mismatch, truncated record, or impossible field combination.
	FormatError = errors.New("format error")
	// UnsupportedFeature marks an incompat/ro_compat bit the decoder does not handle.
	UnsupportedFeature = errors.New("unsupported feature")
	// DecodeError marks a garbled predecessor record encountered during undelete.
	DecodeError = errors.New("decode error")
)

// NotFound marks a failed path resolution; it carries the segment name that
// could not be located so callers can report it without re-parsing the message.
type NotFound struct {
	Name string
}

func (e *NotFound) Error() string {
	return "not found: " + e.Name
}

// IsNotFound reports whether err is (or wraps) a *NotFound.
func IsNotFound(err error) bool {
	var nf *NotFound
	return errors.As(err, &nf)
}
