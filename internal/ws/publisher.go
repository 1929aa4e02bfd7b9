package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	"github.com/kgellert/gemini-relay/internal/ws/hub"
)

// Publisher encodes relay events and fans them out to the chat's
// subscribers.
type Publisher struct {
	hub *hub.Hub
	log *slog.Logger
}

func NewPublisher(h *hub.Hub, log *slog.Logger) *Publisher {
	return &Publisher{hub: h, log: log}
}

func (p *Publisher) Publish(chatID int64, eventType string, payload any) {
	const op = "ws.Publish"

	if p == nil {
		return
	}

	b, err := json.Marshal(ServerEvent{Type: eventType, ChatID: chatID, Payload: payload})
	if err != nil {
		p.log.Error("failed to encode event", slog.String("op", op), slog.String("type", eventType), sl.Err(err))
		return
	}
	p.hub.Broadcast(chatID, b)
}
