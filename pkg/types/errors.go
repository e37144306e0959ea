package types

import "fmt"

// Kind classifies an Error into the taxonomy the dispatch layer maps onto
// wire status codes.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindNotLeader        Kind = "not_leader"
	KindConflict         Kind = "conflict"
	KindUnauthenticated  Kind = "unauthenticated"
	KindPermissionDenied Kind = "permission_denied"
	KindUnavailable      Kind = "unavailable"
	KindInternal         Kind = "internal"
)

// Error is Concord's typed error: every handler and background task
// returns one of these (or wraps one) so the error kind survives to the
// wire boundary without string-sniffing.
type Error struct {
	Kind    Kind
	Message string
	Hint    string // e.g. leader address for KindNotLeader
	Version uint64 // e.g. current version for KindConflict
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed Error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error without losing it.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotLeader builds a KindNotLeader error carrying the leader hint.
func NotLeader(hint string) *Error {
	return &Error{Kind: KindNotLeader, Message: "not the leader", Hint: hint}
}

// Conflict builds a KindConflict error carrying the current version.
func Conflict(version uint64, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Version: version}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, or
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts the underlying *Error from err, if it is or wraps one.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := asError(err, &e)
	return e, ok
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
