package compressor

import "errors"

// ErrorKind classifies a failed compression run.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindSourceNotFound
	KindDecodeFailure
	KindUnreachableTarget
	KindUnexpectedFailure
	KindInvalidRequest
	KindCancelled
)

var (
	ErrSourceNotFound    = errors.New("source file does not exist")
	ErrDecodeFailure     = errors.New("cannot decode source image")
	ErrUnreachableTarget = errors.New("cannot compress to target size")
	ErrUnexpected        = errors.New("compression failed")
	ErrInvalidRequest    = errors.New("invalid compression request")
	ErrCancelled         = errors.New("compression cancelled")
)

// String returns the kind name used in logs and API responses.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSourceNotFound:
		return "source_not_found"
	case KindDecodeFailure:
		return "decode_failure"
	case KindUnreachableTarget:
		return "unreachable_target"
	case KindUnexpectedFailure:
		return "unexpected_failure"
	case KindInvalidRequest:
		return "invalid_request"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// kindOf maps an error chain onto its kind.
func kindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrSourceNotFound):
		return KindSourceNotFound
	case errors.Is(err, ErrDecodeFailure):
		return KindDecodeFailure
	case errors.Is(err, ErrUnreachableTarget):
		return KindUnreachableTarget
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindUnexpectedFailure
	}
}
