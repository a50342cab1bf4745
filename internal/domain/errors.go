package domain

import "errors"

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrDuplicateKey   = errors.New("key already taken")
	ErrInvalidChoice  = errors.New("unrecognised choice")

	ErrNotFound       error = errors.New("not found")
	ErrPollNotFound   error = notFoundError("poll does not exist")
	ErrConfigNotFound error = notFoundError("config not found")

	ErrStorageRead  = errors.New("storage read failure")
	ErrStorageWrite = errors.New("storage write failure")

	ErrUnsupportedMessage = errors.New("unsupported message")
	ErrMalformedMessage   = errors.New("malformed message")
)

// notFoundError carries its own message and matches ErrNotFound.
type notFoundError string

func (e notFoundError) Error() string { return string(e) }

func (e notFoundError) Is(target error) bool { return target == ErrNotFound }
