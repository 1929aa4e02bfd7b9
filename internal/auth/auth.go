package auth

// Authorizer decides which senders the relay serves. A message is served
// when its sender is trusted or it was posted in an allowed chat. With
// both lists empty nobody is served.
type Authorizer struct {
	trustedUsers map[int64]struct{}
	allowedChats map[int64]struct{}
}

func New(trustedUsers, allowedChats []int64) *Authorizer {
	a := &Authorizer{
		trustedUsers: make(map[int64]struct{}, len(trustedUsers)),
		allowedChats: make(map[int64]struct{}, len(allowedChats)),
	}
	for _, id := range trustedUsers {
		a.trustedUsers[id] = struct{}{}
	}
	for _, id := range allowedChats {
		a.allowedChats[id] = struct{}{}
	}
	return a
}

func (a *Authorizer) Authorized(chatID, userID int64) bool {
	if _, ok := a.trustedUsers[userID]; ok {
		return true
	}
	_, ok := a.allowedChats[chatID]
	return ok
}
