package ws

const (
	EventMessageStored     = "message.stored"
	EventCommandDispatched = "command.dispatched"
	EventReplySent         = "reply.sent"
	EventGenerationFailed  = "generation.failed"
	EventRetryTriggered    = "retry.triggered"
)

type ServerEvent struct {
	Type    string `json:"type"`
	ChatID  int64  `json:"chatId"`
	Payload any    `json:"payload,omitempty"`
}
