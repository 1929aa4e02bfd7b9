package messages

import (
	"errors"
)

var (
	ErrMessageIsNil        = errors.New("message is nil")
	ErrMessageNotExist     = errors.New("message is not exist")
	ErrMetadataNotExist    = errors.New("message metadata is not exist")
	ErrLinkNotExist        = errors.New("generation link is not exist")
	ErrSelfReferencingLink = errors.New("generation link references itself")
)
