package cachebay

import "github.com/lockvoid/cachebay/internal/cerrors"

// Error kinds returned by Normalize/Materialize/ReadFragment/WriteFragment
// (spec §7). Use IsErrorKind to test whether an error carries one of them.
const (
	ErrMalformedDocument   = cerrors.MalformedDocument
	ErrUnknownFragmentName = cerrors.UnknownFragmentName
	ErrInvalidPage         = cerrors.InvalidPage
	ErrCacheMiss           = cerrors.CacheMiss
)

// ErrorKind re-exports cerrors.Kind so callers can switch on it without
// importing the internal package directly.
type ErrorKind = cerrors.Kind

// IsErrorKind reports whether err (or something it wraps) carries kind.
func IsErrorKind(err error, kind ErrorKind) bool {
	return cerrors.Is(err, kind)
}
