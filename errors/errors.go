// Package errors holds the typed errors returned by the compellent
// packages.
package errors

import "fmt"

var (
	// ErrUnauthorized is returned when the Data Collector rejects
	// our credentials.
	ErrUnauthorized = NewUnauthorizedError("Unauthorized")
	// ErrNotFound is returned if an object is not found.
	ErrNotFound = NewNotFoundError("not found")
	// ErrBadRequest is returned when the Data Collector rejects a
	// malformed request.
	ErrBadRequest = NewBadRequestError("invalid request")
	// ErrNotImplemented returns a not implemented error.
	ErrNotImplemented = fmt.Errorf("not implemented")
)

type baseError struct {
	msg string
}

func (b *baseError) Error() string {
	return b.msg
}

// NewUnauthorizedError returns a new UnauthorizedError
func NewUnauthorizedError(msg string, a ...interface{}) error {
	return &UnauthorizedError{
		baseError{
			msg: fmt.Sprintf(msg, a...),
		},
	}
}

// UnauthorizedError is returned when a request is unauthorized
type UnauthorizedError struct {
	baseError
}

func (b *UnauthorizedError) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*UnauthorizedError)
	return ok
}

// NewNotFoundError returns a new NotFoundError
func NewNotFoundError(msg string, a ...interface{}) error {
	return &NotFoundError{
		baseError{
			msg: fmt.Sprintf(msg, a...),
		},
	}
}

// NotFoundError is returned when a resource is not found
type NotFoundError struct {
	baseError
}

func (b *NotFoundError) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*NotFoundError)
	return ok
}

// NewBadRequestError returns a new BadRequestError
func NewBadRequestError(msg string, a ...interface{}) error {
	return &BadRequestError{
		baseError{
			msg: fmt.Sprintf(msg, a...),
		},
	}
}

// BadRequestError is returned when the Data Collector receives a
// malformed request
type BadRequestError struct {
	baseError
}

func (b *BadRequestError) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*BadRequestError)
	return ok
}

// NewConflictError returns a new ConflictError
func NewConflictError(msg string, a ...interface{}) error {
	return &ConflictError{
		baseError{
			msg: fmt.Sprintf(msg, a...),
		},
	}
}

// ConflictError is returned when a conflicting request is made
type ConflictError struct {
	baseError
}

func (b *ConflictError) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*ConflictError)
	return ok
}

// NewValueError returns a new ValueError
func NewValueError(msg string, a ...interface{}) error {
	return &ValueError{
		baseError{
			msg: fmt.Sprintf(msg, a...),
		},
	}
}

// ValueError is returned when a value is invalid.
type ValueError struct {
	baseError
}

func (b *ValueError) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*ValueError)
	return ok
}

// ErrVolumeNotFound is returned when a particular volume was not found
// on the Storage Center.
type ErrVolumeNotFound struct {
	message string
}

func (b *ErrVolumeNotFound) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*ErrVolumeNotFound)
	return ok
}

func (e ErrVolumeNotFound) Error() string {
	return e.message
}

// NewVolumeNotFoundErr returns a new ErrVolumeNotFound
func NewVolumeNotFoundErr(msg string, a ...interface{}) error {
	return &ErrVolumeNotFound{
		message: fmt.Sprintf(msg, a...),
	}
}

// ErrServerNotFound is returned when a particular server was not found
// on the Storage Center.
type ErrServerNotFound struct {
	message string
}

func (b *ErrServerNotFound) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*ErrServerNotFound)
	return ok
}

func (e ErrServerNotFound) Error() string {
	return e.message
}

// NewServerNotFoundErr returns a new ErrServerNotFound
func NewServerNotFoundErr(msg string, a ...interface{}) error {
	return &ErrServerNotFound{
		message: fmt.Sprintf(msg, a...),
	}
}

// ErrAmbiguousMatch is returned when a search that must resolve to
// exactly one object matched several.
type ErrAmbiguousMatch struct {
	message string
}

func (b *ErrAmbiguousMatch) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*ErrAmbiguousMatch)
	return ok
}

func (e ErrAmbiguousMatch) Error() string {
	return e.message
}

// NewAmbiguousMatchErr returns a new ErrAmbiguousMatch
func NewAmbiguousMatchErr(msg string, a ...interface{}) error {
	return &ErrAmbiguousMatch{
		message: fmt.Sprintf(msg, a...),
	}
}

// ErrDeviceProtected is returned when a block device slated for
// removal is mounted or part of an LVM configuration.
type ErrDeviceProtected struct {
	message string
}

func (b *ErrDeviceProtected) Is(target error) bool {
	if target == nil {
		return false
	}
	_, ok := target.(*ErrDeviceProtected)
	return ok
}

func (e ErrDeviceProtected) Error() string {
	return e.message
}

// NewDeviceProtectedErr returns a new ErrDeviceProtected
func NewDeviceProtectedErr(msg string, a ...interface{}) error {
	return &ErrDeviceProtected{
		message: fmt.Sprintf(msg, a...),
	}
}
