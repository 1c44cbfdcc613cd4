package services

import "errors"

// Error kinds shared across the service layer. Handlers map these onto the
// HTTP error envelope; internals wrap them with context via fmt.Errorf and
// callers match with errors.Is.
var (
	ErrValidation        = errors.New("ValidationError")
	ErrAuth              = errors.New("AuthError")
	ErrNotFound          = errors.New("NotFound")
	ErrConflictingState  = errors.New("ConflictingState")
	ErrInvalidTransition = errors.New("InvalidTransition")
	ErrPayloadTooLarge   = errors.New("PayloadTooLarge")
	ErrRateLimited       = errors.New("RateLimited")
	ErrBackpressure      = errors.New("Backpressure")
	ErrStorage           = errors.New("StorageError")
	ErrCacheUnavailable  = errors.New("CacheUnavailable")
	ErrBlobMissing       = errors.New("BlobMissing")
	ErrInternal          = errors.New("InternalError")
)

// ErrorKind returns the envelope kind string for an error, defaulting to
// InternalError for anything unrecognized.
func ErrorKind(err error) string {
	for _, kind := range []error{
		ErrValidation, ErrAuth, ErrNotFound, ErrConflictingState,
		ErrInvalidTransition, ErrPayloadTooLarge, ErrRateLimited,
		ErrBackpressure, ErrStorage, ErrCacheUnavailable, ErrBlobMissing,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ErrInternal.Error()
}
