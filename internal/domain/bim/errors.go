package bim

import "errors"

var (
	// ErrUnrecognizedFormat means the file is not an IFC model at all (bad or missing header).
	ErrUnrecognizedFormat = errors.New("unrecognized model format")
	// ErrParse means the file looked like IFC but could not be read.
	ErrParse = errors.New("model parse error")
	// ErrNotFound is returned when the document does not exist.
	ErrNotFound = errors.New("model document not found")
	// ErrInvalidInput covers malformed upload commands.
	ErrInvalidInput = errors.New("invalid model input")
)
