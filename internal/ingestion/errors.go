package ingestion

import "github.com/cockroachdb/errors"

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyFile is returned when the upload has no bytes.
	ErrEmptyFile = errors.New("file is empty")
	// ErrNoHeader is returned when no header row can be found.
	ErrNoHeader = errors.New("header row could not be detected")
	// ErrWrongStep is returned when an operation is invoked outside its wizard step.
	ErrWrongStep = errors.New("operation not allowed at current step")
	// ErrStepBlocked is returned when a transition guard fails.
	ErrStepBlocked = errors.New("cannot advance to next step")
	// ErrAllRowsInvalid is returned when every row has at least one row level error.
	ErrAllRowsInvalid = errors.New("all rows are invalid")
	// ErrUploadInFlight is returned when an upload is already running for the session.
	ErrUploadInFlight = errors.New("upload already in progress")
	// ErrAlreadyUploaded is returned once a session has completed its upload.
	ErrAlreadyUploaded = errors.New("session already uploaded")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrVerificationFailed is returned when the read-back check disagrees with what was written.
	ErrVerificationFailed = errors.New("upload verification failed")
	// ErrInvalidDetails is returned when animal details fail validation.
	ErrInvalidDetails = errors.New("invalid animal details")
	// ErrUnknownColumn is returned when a mapping or rename refers to a header the file does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidTimestampConfig is returned for an unknown timestamp format.
	ErrInvalidTimestampConfig = errors.New("invalid timestamp config")
)
