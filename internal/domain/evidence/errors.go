package evidence

import "errors"

var (
	ErrNotFound          = errors.New("evidence not found")
	ErrInvalidTransition = errors.New("invalid evidence status transition")
	ErrInvalidInput      = errors.New("invalid evidence input")
	// ErrStillProcessing is returned when re-analysis is requested before the staleness window elapsed.
	ErrStillProcessing = errors.New("evidence is still processing")
)
