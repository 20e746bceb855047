package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies registry failures so callers can react without string matching.
type ErrorKind string

const (
	// ErrorKindNotFound indicates an unknown environment, app or collection id.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindDuplicateID indicates a registration of an id that is already registered.
	ErrorKindDuplicateID ErrorKind = "duplicate_id"

	// ErrorKindParse indicates a malformed spec document. Both decode attempts are wrapped.
	ErrorKindParse ErrorKind = "parse_error"

	// ErrorKindUnsupportedFormat indicates a spec file with an unrecognized extension.
	ErrorKindUnsupportedFormat ErrorKind = "unsupported_format"

	// ErrorKindIO indicates a filesystem failure while reading, writing or removing.
	ErrorKindIO ErrorKind = "io_error"

	// ErrorKindMaterialization indicates the Materializer returned an error.
	ErrorKindMaterialization ErrorKind = "materialization_failure"

	// ErrorKindInvalidID indicates an id that cannot be used as an entity name.
	ErrorKindInvalidID ErrorKind = "invalid_id"
)

// Error is a classified registry error with context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// ID is the environment, app or collection id involved, if any.
	ID string `json:"id,omitempty"`

	// Path is the filesystem path involved, if any.
	Path string `json:"path,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.ID != "" && e.Path != "" {
		msg = fmt.Sprintf("%s (id=%s, path=%s)", msg, e.ID, e.Path)
	} else if e.ID != "" {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	} else if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithID adds an entity id to the error.
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// WithPath adds a filesystem path to the error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// Sentinel values usable with errors.Is.
var (
	ErrNotFound          = &Error{Kind: ErrorKindNotFound}
	ErrDuplicateID       = &Error{Kind: ErrorKindDuplicateID}
	ErrParse             = &Error{Kind: ErrorKindParse}
	ErrUnsupportedFormat = &Error{Kind: ErrorKindUnsupportedFormat}
	ErrIO                = &Error{Kind: ErrorKindIO}
	ErrMaterialization   = &Error{Kind: ErrorKindMaterialization}
	ErrInvalidID         = &Error{Kind: ErrorKindInvalidID}
)

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: message}
}

// NewDuplicateIDError creates a new duplicate-id error.
func NewDuplicateIDError(message string) *Error {
	return &Error{Kind: ErrorKindDuplicateID, Message: message}
}

// NewParseError creates a new parse error. causes are joined so every attempt stays inspectable.
func NewParseError(message string, causes ...error) *Error {
	return &Error{Kind: ErrorKindParse, Message: message, Err: errors.Join(causes...)}
}

// NewUnsupportedFormatError creates a new unsupported-format error.
func NewUnsupportedFormatError(message string) *Error {
	return &Error{Kind: ErrorKindUnsupportedFormat, Message: message}
}

// NewIOError creates a new I/O error.
func NewIOError(message string, err error) *Error {
	return &Error{Kind: ErrorKindIO, Message: message, Err: err}
}

// NewMaterializationError creates a new materialization error.
func NewMaterializationError(message string, err error) *Error {
	return &Error{Kind: ErrorKindMaterialization, Message: message, Err: err}
}

// NewInvalidIDError creates a new invalid-id error.
func NewInvalidIDError(message string, err error) *Error {
	return &Error{Kind: ErrorKindInvalidID, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrorKindNotFound
}

// IsDuplicateID returns true if the error is classified as a duplicate id.
func IsDuplicateID(err error) bool {
	return KindOf(err) == ErrorKindDuplicateID
}

// IsParseError returns true if the error is classified as a parse error.
func IsParseError(err error) bool {
	return KindOf(err) == ErrorKindParse
}

// IsUnsupportedFormat returns true if the error is classified as an unsupported format.
func IsUnsupportedFormat(err error) bool {
	return KindOf(err) == ErrorKindUnsupportedFormat
}

// IsMaterializationFailure returns true if the error is classified as a materialization failure.
func IsMaterializationFailure(err error) bool {
	return KindOf(err) == ErrorKindMaterialization
}
