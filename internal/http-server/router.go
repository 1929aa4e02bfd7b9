package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	archiveHandler "github.com/kgellert/gemini-relay/internal/archive/handler"
	"github.com/kgellert/gemini-relay/internal/config"
	configHandler "github.com/kgellert/gemini-relay/internal/config/handler"
	mwLogger "github.com/kgellert/gemini-relay/internal/http-server/middleware/logger"
	messagesHandler "github.com/kgellert/gemini-relay/internal/messages/handler"
	ws "github.com/kgellert/gemini-relay/internal/ws/handler"
	"github.com/kgellert/gemini-relay/internal/ws/hub"
)

type Handlers struct {
	Messages *messagesHandler.Handler
	Archive  *archiveHandler.ArchiveHandler
	Config   *configHandler.Handler
	Metrics  http.Handler
	Hub      *hub.Hub
}

// NewRouter mounts the admin API.
func NewRouter(h Handlers, log *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/metrics", h.Metrics)
	router.Get("/config", h.Config.GetConfig())

	router.Get("/ws", ws.WSHandler(h.Hub, log))

	router.Route("/chats/{chatId}/messages/{messageId}", func(r chi.Router) {
		r.Get("/", h.Messages.GetMessage())
		r.Get("/history", h.Messages.GetHistory())
	})

	router.Post("/archive/presign-download", h.Archive.PresignDownload())

	return router
}

func New(cfg config.HTTPServer, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
