package types

// ExchangeState tracks one exchange through the pipeline.
type ExchangeState int

const (
	ExchangeReceived ExchangeState = iota
	ExchangeUserPersisted
	ExchangeContextBuilt
	ExchangeCompleted
)

func (s ExchangeState) String() string {
	switch s {
	case ExchangeReceived:
		return "received"
	case ExchangeUserPersisted:
		return "user_persisted"
	case ExchangeContextBuilt:
		return "context_built"
	case ExchangeCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ExchangeResult pairs a user message with the AI reply written for it.
type ExchangeResult struct {
	UserMessage UserMessage
	AiMessage   AiMessage
	State       ExchangeState
}

type ExchangeView struct {
	UserMessage MessageView `json:"user_message"`
	AiMessage   MessageView `json:"ai_message"`
}

func (r *ExchangeResult) View() ExchangeView {
	return ExchangeView{UserMessage: r.UserMessage.View(), AiMessage: r.AiMessage.View()}
}
