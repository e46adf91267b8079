package ai

import "errors"

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrEmptyResponse indicates the provider answered without any text payload.
var ErrEmptyResponse = errors.New("ai provider returned an empty response")

// ErrMalformedResponse indicates the payload did not match the expected schema.
var ErrMalformedResponse = errors.New("ai provider returned a malformed response")

// ErrUnavailable is returned by capabilities that cannot reach their backend at all.
var ErrUnavailable = errors.New("ai provider unavailable")
