package types

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one provider-agnostic (role, text) pair.
type Turn struct {
	Role    string
	Content string
}

// ConversationContext is the prompt for one AI call. Turns are oldest first.
type ConversationContext struct {
	System string
	Turns  []Turn
}

func RoleFor(t MessageType) string {
	if t == MessageTypeAI {
		return RoleAssistant
	}
	return RoleUser
}
