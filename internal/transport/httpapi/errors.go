package httpapi

import (
	"errors"
	"net/http"

	"github.com/kgellert/gemini-relay/internal/archive"
	"github.com/kgellert/gemini-relay/internal/messages"
)

var ErrInvalidID = errors.New("invalid id")

func MapError(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest, "invalid_id", err.Error()

	case errors.Is(err, messages.ErrMessageNotExist):
		return http.StatusNotFound, "message_not_found", err.Error()

	case errors.Is(err, messages.ErrMetadataNotExist):
		return http.StatusNotFound, "metadata_not_found", err.Error()

	case errors.Is(err, archive.ErrInvalidKey):
		return http.StatusBadRequest, "invalid_key", err.Error()

	case errors.Is(err, archive.ErrDisabled):
		return http.StatusNotFound, "archive_disabled", err.Error()
	}

	return http.StatusInternalServerError, "internal_error", "internal server error"
}
