package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/roomchat-backend/internal/db"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

type testEnv struct {
	db       *gorm.DB
	users    repos.UserRepo
	rooms    repos.RoomRepo
	messages repos.MessageRepo
	user     *types.User
	room     *types.Room
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := db.NewMemoryDatabase(logger.NewNop())
	if err != nil {
		t.Fatalf("NewMemoryDatabase: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := logger.NewNop()
	env := &testEnv{
		db:       s.DB(),
		users:    repos.NewUserRepo(s.DB(), log),
		rooms:    repos.NewRoomRepo(s.DB(), log),
		messages: repos.NewMessageRepo(s.DB(), log),
	}
	env.user = env.newUser(t, "alice")
	env.room = env.newRoom(t, "general")
	return env
}

func (e *testEnv) newUser(t *testing.T, name string) *types.User {
	t.Helper()
	users, err := e.users.Create(context.Background(), nil, []*types.User{{
		Username:     name,
		Email:        name + "-" + uuid.NewString()[:6] + "@example.com",
		PasswordHash: "x",
	}})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return users[0]
}

func (e *testEnv) newRoom(t *testing.T, name string) *types.Room {
	t.Helper()
	rooms, err := e.rooms.Create(context.Background(), nil, []*types.Room{{Name: name, CreatedBy: e.user.ID}})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return rooms[0]
}

func (e *testEnv) identity() types.Identity {
	return types.Identity{UserID: e.user.ID, Username: e.user.Username}
}

func (e *testEnv) appendUser(t *testing.T, content string) *types.Message {
	t.Helper()
	m, err := e.messages.Append(context.Background(), nil, types.NewUserDraft(e.room.ID, e.identity(), content))
	if err != nil {
		t.Fatalf("append user: %v", err)
	}
	return m
}

func (e *testEnv) appendAI(t *testing.T, content string) *types.Message {
	t.Helper()
	draft, err := types.NewAIDraft(e.room.ID, content, types.AIMetadata{Model: "fake-model"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := e.messages.Append(context.Background(), nil, draft)
	if err != nil {
		t.Fatalf("append ai: %v", err)
	}
	return m
}

func (e *testEnv) countMessages(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&types.Message{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}
