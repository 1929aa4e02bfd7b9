package ws

type MessageStoredPayload struct {
	MessageID int64  `json:"message_id"`
	SenderID  int64  `json:"sender_id"`
	FromSelf  bool   `json:"from_self"`
	Text      string `json:"text,omitempty"`
}

type CommandDispatchedPayload struct {
	MessageID int64             `json:"message_id"`
	Command   string            `json:"command"`
	Implicit  bool              `json:"implicit"`
	Args      map[string]string `json:"args,omitempty"`
}

type ReplySentPayload struct {
	RequestID  int64   `json:"request_id"`
	Command    string  `json:"command"`
	MessageIDs []int64 `json:"message_ids"`
}

type GenerationFailedPayload struct {
	RequestID int64  `json:"request_id"`
	Command   string `json:"command"`
	Error     string `json:"error"`
}

type RetryTriggeredPayload struct {
	MessageID int64  `json:"message_id"`
	Outcome   string `json:"outcome"`
}
