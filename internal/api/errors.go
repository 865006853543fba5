package api

import "errors"

var (
	// ErrValidation indicates a malformed or unacceptable request.
	ErrValidation = errors.New("invalid request")

	// ErrNoBundleFile indicates the upload contained no recognizable bundle.
	ErrNoBundleFile = errors.New("no bundle file in upload")

	// ErrNotReady indicates a download was requested before the archive exists.
	ErrNotReady = errors.New("archive not ready")
)
