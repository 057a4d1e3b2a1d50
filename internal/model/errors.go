package model

import "errors"

var (
	// ErrDuplicateTransfer is returned when a START arrives for a transfer that is already active.
	ErrDuplicateTransfer = errors.New("duplicate session")

	// ErrNoActiveTransfer is returned when a CHUNK or END references an unknown transfer.
	ErrNoActiveTransfer = errors.New("no active session")

	// ErrMissingChunks is returned when END is received before every chunk arrived.
	ErrMissingChunks = errors.New("missing chunks")

	// ErrFileNotFound is returned when a stored file record does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrElementNotFound is returned when no element matches the given locators.
	ErrElementNotFound = errors.New("element not found")

	// ErrNoDevice is returned when the automation driver cannot resolve a target device.
	ErrNoDevice = errors.New("no device connected")

	// ErrUnsupportedLocator is returned for a locator strategy the driver cannot evaluate.
	ErrUnsupportedLocator = errors.New("unsupported locator")
)
