package models

import "errors"

// Common domain errors shared between models, services, and handlers.
var (
	// ErrFileNameRequired indicates an upload without a file name.
	ErrFileNameRequired = errors.New("file name is required")

	// ErrUnsupportedFileType indicates a file extension other than .dwg or .dxf.
	ErrUnsupportedFileType = errors.New("unsupported file type: only DWG and DXF files are accepted")

	// ErrFileTooLarge indicates an upload exceeding the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds the maximum allowed size")

	// ErrQuotaExceeded indicates the account used up its monthly conversion quota.
	ErrQuotaExceeded = errors.New("monthly conversion limit reached")

	// ErrNotOwner indicates an account accessing a conversion it does not own.
	ErrNotOwner = errors.New("conversion does not belong to this account")

	// ErrNotFound indicates a record that does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition indicates a conversion status change that would
	// move backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid conversion status transition")

	// ErrAccountRequired indicates a request without an authenticated account.
	ErrAccountRequired = errors.New("account is required")
)
