package vfs

import "fmt"

// Error is the kind of a failure. Engine and registry operations return one of
// the kinds below, possibly decorated with WithMessage or Wrap; callers match
// with errors.Is.
type Error string

const ErrIOFailed = Error("Input/output error")
const ErrNoSpace = Error("No space left on device")
const ErrNotFound = Error("No such file or directory")
const ErrExists = Error("File exists")
const ErrNotADirectory = Error("Not a directory")
const ErrNotAFile = Error("Is a directory")
const ErrCorruptChain = Error("Corrupt cluster chain")
const ErrDirectoryNotEmpty = Error("Directory not empty")
const ErrNotMounted = Error("No file system is mounted")
const ErrAlreadyMounted = Error("A file system is already mounted")
const ErrAlreadyRegistered = Error("Disk is already registered")
const ErrNotRegistered = Error("Disk is not registered")
const ErrUnknownFSType = Error("Unknown file system type")
const ErrOutOfRange = Error("Value out of range")

func (e Error) Error() string {
	return string(e)
}

// WithMessage returns an error of the same kind with extra detail appended.
func (e Error) WithMessage(message string) error {
	return wrappedError{
		kind:    e,
		message: fmt.Sprintf("%s: %s", string(e), message),
	}
}

// Wrap returns an error of the same kind with `err` as its cause. The result
// matches both the kind and the cause under errors.Is.
func (e Error) Wrap(err error) error {
	return wrappedError{
		kind:    e,
		message: fmt.Sprintf("%s: %s", string(e), err.Error()),
		cause:   err,
	}
}

// -----------------------------------------------------------------------------

type wrappedError struct {
	kind    Error
	message string
	cause   error
}

func (e wrappedError) Error() string {
	return e.message
}

func (e wrappedError) Unwrap() error {
	return e.cause
}

func (e wrappedError) Is(target error) bool {
	return target == e.kind
}
