package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

// failingMessageRepo fails reads and, when failAppendType is set, appends of
// that type.
type failingMessageRepo struct {
	repos.MessageRepo
	failReads      bool
	failAppendType types.MessageType
}

func (f *failingMessageRepo) Recent(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, limit int) ([]*types.Message, error) {
	if f.failReads {
		return nil, errordata.Store("test", "read failed", errors.New("disk on fire"))
	}
	return f.MessageRepo.Recent(ctx, tx, roomID, limit)
}

func (f *failingMessageRepo) RecentUpTo(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, seq int64, limit int) ([]*types.Message, error) {
	if f.failReads {
		return nil, errordata.Store("test", "read failed", errors.New("disk on fire"))
	}
	return f.MessageRepo.RecentUpTo(ctx, tx, roomID, seq, limit)
}

func (f *failingMessageRepo) Append(ctx context.Context, tx *gorm.DB, draft types.MessageDraft) (*types.Message, error) {
	if f.failAppendType != "" && draft.Type == f.failAppendType {
		return nil, errordata.Store("test", "write failed", errors.New("disk full"))
	}
	return f.MessageRepo.Append(ctx, tx, draft)
}

func TestAssembleEmptyRoom(t *testing.T) {
	env := newTestEnv(t)
	a := NewContextAssembler(env.messages, 10, "be brief", logger.NewNop())

	convo, err := a.Assemble(context.Background(), env.room.ID)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(convo.Turns) != 0 {
		t.Errorf("turns = %d, want 0", len(convo.Turns))
	}
	if convo.System != "be brief" {
		t.Errorf("System = %q", convo.System)
	}
}

func TestAssembleWindowAndRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		env.appendUser(t, fmt.Sprintf("q%d", i))
		env.appendAI(t, fmt.Sprintf("a%d", i))
	}

	a := NewContextAssembler(env.messages, 5, "", logger.NewNop())
	convo, err := a.Assemble(ctx, env.room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(convo.Turns) != 5 {
		t.Fatalf("turns = %d, want 5", len(convo.Turns))
	}
	// last five of q0 a0 ... q5 a5
	want := []types.Turn{
		{Role: types.RoleAssistant, Content: "a3"},
		{Role: types.RoleUser, Content: env.user.Username + ": q4"},
		{Role: types.RoleAssistant, Content: "a4"},
		{Role: types.RoleUser, Content: env.user.Username + ": q5"},
		{Role: types.RoleAssistant, Content: "a5"},
	}
	for i := range want {
		if convo.Turns[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, convo.Turns[i], want[i])
		}
	}

	upTo, err := a.AssembleUpTo(ctx, env.room.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(upTo.Turns); n != 3 || upTo.Turns[2].Content != env.user.Username+": q1" {
		t.Errorf("AssembleUpTo(3) = %+v", upTo.Turns)
	}
}

func TestAssemblePropagatesReadError(t *testing.T) {
	env := newTestEnv(t)
	a := NewContextAssembler(&failingMessageRepo{MessageRepo: env.messages, failReads: true}, 10, "", logger.NewNop())
	if _, err := a.Assemble(context.Background(), env.room.ID); !errordata.IsStore(err) {
		t.Fatalf("err = %v, want store error", err)
	}
}
