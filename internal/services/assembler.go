package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

// ContextAssembler builds the bounded prompt for one AI call. It only reads.
type ContextAssembler interface {
	Assemble(ctx context.Context, roomID uuid.UUID) (types.ConversationContext, error)
	AssembleUpTo(ctx context.Context, roomID uuid.UUID, seq int64) (types.ConversationContext, error)
}

type contextAssembler struct {
	messageRepo repos.MessageRepo
	window      int
	system      string
	log         *logger.Logger
}

func NewContextAssembler(messageRepo repos.MessageRepo, window int, systemPrompt string, log *logger.Logger) ContextAssembler {
	if window <= 0 {
		window = 10
	}
	return &contextAssembler{
		messageRepo: messageRepo,
		window:      window,
		system:      systemPrompt,
		log:         log.With("service", "ContextAssembler"),
	}
}

func (ca *contextAssembler) Assemble(ctx context.Context, roomID uuid.UUID) (types.ConversationContext, error) {
	msgs, err := ca.messageRepo.Recent(ctx, nil, roomID, ca.window)
	if err != nil {
		ca.log.Warn("Failed to read recent messages", "roomID", roomID, "error", err)
		return types.ConversationContext{}, err
	}
	return ca.build(msgs), nil
}

// AssembleUpTo ends the window at seq so later messages in the room do not
// leak into a delayed reply.
func (ca *contextAssembler) AssembleUpTo(ctx context.Context, roomID uuid.UUID, seq int64) (types.ConversationContext, error) {
	msgs, err := ca.messageRepo.RecentUpTo(ctx, nil, roomID, seq, ca.window)
	if err != nil {
		ca.log.Warn("Failed to read messages up to seq", "roomID", roomID, "seq", seq, "error", err)
		return types.ConversationContext{}, err
	}
	return ca.build(msgs), nil
}

func (ca *contextAssembler) build(msgs []*types.Message) types.ConversationContext {
	turns := make([]types.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, TurnFor(m))
	}
	ca.log.Debug("Assembled context", "turns", len(turns))
	return types.ConversationContext{System: ca.system, Turns: turns}
}

// TurnFor maps a stored message to a prompt turn. User turns carry the
// author's name since rooms have several participants.
func TurnFor(m *types.Message) types.Turn {
	content := m.Content
	if m.MessageType == types.MessageTypeUser && m.DisplayName != "" {
		content = fmt.Sprintf("%s: %s", m.DisplayName, m.Content)
	}
	return types.Turn{Role: types.RoleFor(m.MessageType), Content: content}
}
