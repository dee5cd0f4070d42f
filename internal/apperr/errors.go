// Package apperr defines the abstract error kinds shared across rushd's
// subsystems so HTTP handlers can map them to status codes with errors.Is.
package apperr

import "errors"

var (
	// ErrConfig marks an invalid or unparseable configuration. Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrPortExhausted marks that no free port remains in the configured range.
	ErrPortExhausted = errors.New("no free port in range")

	// ErrConcurrencyLimit marks that starting a backend would exceed the
	// configured max_concurrent cap on Starting+Running backends.
	ErrConcurrencyLimit = errors.New("max_concurrent limit reached")

	// ErrBind marks an OS-level listener bind failure.
	ErrBind = errors.New("bind error")

	// ErrCert marks a certificate mint or parse failure.
	ErrCert = errors.New("certificate error")

	// ErrAcme marks an ACME challenge or order failure.
	ErrAcme = errors.New("acme error")

	// ErrAuth maps to 401 responses.
	ErrAuth = errors.New("unauthorized")

	// ErrRateLimited maps to 429 responses.
	ErrRateLimited = errors.New("rate limited")

	// ErrBadRequest maps to 400/404 responses (malformed input, path traversal, unknown route).
	ErrBadRequest = errors.New("bad request")

	// ErrTimeout marks a deadline exceeded on a downstream call or handler.
	ErrTimeout = errors.New("timeout")

	// ErrInternal marks an unexpected failure that must never escape the process.
	ErrInternal = errors.New("internal error")
)

// Wrap annotates err with a sentinel kind so callers can still errors.Is(err, kind)
// after fmt.Errorf("%w", ...) wrapping at intermediate layers.
func Wrap(kind error, msg string, cause error) error {
	if cause == nil {
		return &wrapped{kind: kind, msg: msg}
	}
	return &wrapped{kind: kind, msg: msg, cause: cause}
}

type wrapped struct {
	kind  error
	msg   string
	cause error
}

func (w *wrapped) Error() string {
	if w.cause == nil {
		return w.msg
	}
	return w.msg + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() error {
	if w.cause != nil {
		return errors.Join(w.kind, w.cause)
	}
	return w.kind
}

func (w *wrapped) Is(target error) bool {
	return errors.Is(w.kind, target)
}
