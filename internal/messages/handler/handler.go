package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/messages"
	"github.com/kgellert/gemini-relay/internal/transport/httpapi"
)

type HistoryBuilder interface {
	BuildFromStore(ctx context.Context, chatID, messageID int64) (*messages.GetHistoryResponse, error)
}

type Handler struct {
	messagesRepo messages.Repo
	history      HistoryBuilder
	log          *slog.Logger
}

func New(messagesRepo messages.Repo, history HistoryBuilder, log *slog.Logger) *Handler {
	return &Handler{messagesRepo: messagesRepo, history: history, log: log}
}

type getMessageResponse struct {
	Message     *messages.StoredMessage `json:"message"`
	Payload     any                     `json:"payload"`
	Attachments []messages.Attachment   `json:"attachments"`
	CommandType string                  `json:"command_type,omitempty"`
}

func pathIDs(r *http.Request) (chatID, messageID int64, err error) {
	chatID, err = strconv.ParseInt(chi.URLParam(r, "chatId"), 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, httpapi.ErrInvalidID
	}
	messageID, err = strconv.ParseInt(chi.URLParam(r, "messageId"), 10, 64)
	if err != nil || messageID <= 0 {
		return 0, 0, httpapi.ErrInvalidID
	}
	return chatID, messageID, nil
}

// GetMessage returns one stored chat event with its attachments and
// classification.
func (h *Handler) GetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.GetMessage"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		chatID, messageID, err := pathIDs(r)
		if err != nil {
			log.Error("invalid path ids", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		stored, err := h.messagesRepo.Get(r.Context(), chatID, messageID)
		if err != nil {
			log.Error("failed to get message", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		atts, err := h.messagesRepo.Attachments(r.Context(), chatID, messageID)
		if err != nil {
			log.Error("failed to get attachments", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}
		if atts == nil {
			atts = []messages.Attachment{}
		}

		resp := getMessageResponse{
			Message:     stored,
			Payload:     &stored.Message,
			Attachments: atts,
		}

		md, err := h.messagesRepo.Metadata(r.Context(), chatID, messageID)
		switch {
		case err == nil:
			resp.CommandType = md.CommandType
		case !errors.Is(err, messages.ErrMetadataNotExist):
			log.Warn("failed to get metadata", sl.Err(err))
		}

		render.JSON(w, r, resp)
	}
}

// GetHistory returns the conversation that ends at the given message.
func (h *Handler) GetHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.GetHistory"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		chatID, messageID, err := pathIDs(r)
		if err != nil {
			log.Error("invalid path ids", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		resp, err := h.history.BuildFromStore(r.Context(), chatID, messageID)
		if err != nil {
			log.Error("failed to build history", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, resp)
	}
}
