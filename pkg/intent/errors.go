package intent

import "errors"

var (
	// ErrEmptyText names a request to classify empty/whitespace-only text.
	// Nothing in this package returns it: the detectors skip empty text
	// without an error.
	ErrEmptyText = errors.New("intent: empty text")

	// ErrClassifierTransient names a network/5xx/429/timeout failure from a
	// remote classifier. The adapters in pkg/providers/classifier wrap their
	// own classifier.ErrTransient instead; nothing returns this value.
	ErrClassifierTransient = errors.New("intent: classifier call failed transiently")

	// ErrClassifierMalformed names a non-JSON or schema-mismatched response.
	// The adapters in pkg/providers/classifier wrap their own
	// classifier.ErrMalformed instead; nothing returns this value.
	ErrClassifierMalformed = errors.New("intent: classifier response malformed")
)
