package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/kgellert/gemini-relay/internal/commands"
	"github.com/kgellert/gemini-relay/internal/config"
)

func New(config config.Config, commands []*commands.Spec, logger *slog.Logger) *Handler {
	return &Handler{Config: config, Commands: commands, log: logger}
}

type appConfigResponse struct {
	Config   config.Config    `json:"config"`
	Commands []*commands.Spec `json:"commands"`
}

type Handler struct {
	Config   config.Config
	Commands []*commands.Spec
	log      *slog.Logger
}

func (h *Handler) GetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.configHandler.GetConfig"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		log.Debug("config requested")

		render.JSON(w, r, appConfigResponse{
			Config:   h.Config,
			Commands: h.Commands,
		})
	}
}
