package generation

import "errors"

var (
	ErrEmptyPrompt       = errors.New("no valid message to use as a prompt")
	ErrPromptTooLarge    = errors.New("prompt too large")
	ErrPromptBlocked     = errors.New("prompt was blocked")
	ErrUnsafeResponse    = errors.New("response blocked by safety filters")
	ErrMalformedToolCall = errors.New("model produced a malformed function call")
	ErrEmptyResponse     = errors.New("model returned no candidates")
)
