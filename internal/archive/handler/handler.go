package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/kgellert/gemini-relay/internal/archive"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/transport/httpapi"
)

type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

type presignDownloadRequest struct {
	Key string `json:"key"`
}

type presignDownloadResponse struct {
	URL string `json:"url"`
}

type PresignDownloadHTTPResponse struct {
	PresignDownloadResponse presignDownloadResponse `json:"presign_download"`
}

type ArchiveHandler struct {
	service Presigner
	log     *slog.Logger
}

func New(service Presigner, log *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{service: service, log: log}
}

// PresignDownload returns a temporary URL for an archived generated image.
func (h *ArchiveHandler) PresignDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.archive.PresignDownload"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req presignDownloadRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("invalid body", sl.Err(err))
			httpapi.WriteError(w, r, archive.ErrInvalidKey)
			return
		}

		if req.Key == "" {
			log.Error("empty key")
			httpapi.WriteError(w, r, archive.ErrInvalidKey)
			return
		}

		url, err := h.service.PresignDownload(r.Context(), req.Key)
		if err != nil {
			log.Error("presign download error", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, PresignDownloadHTTPResponse{
			PresignDownloadResponse: presignDownloadResponse{URL: url},
		})
	}
}
