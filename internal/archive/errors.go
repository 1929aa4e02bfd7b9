package archive

import "errors"

var (
	ErrInvalidKey             = errors.New("invalid key")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrDisabled               = errors.New("archive is not configured")
)
