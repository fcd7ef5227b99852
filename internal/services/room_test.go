package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
)

func newTestRoomService(t *testing.T, bucket BucketService) (*testEnv, RoomService) {
	t.Helper()
	env := newTestEnv(t)
	svc := NewRoomService(env.db, logger.NewNop(), env.rooms, env.messages, fakeIdentity{id: env.identity()}, nil, bucket, nil)
	return env, svc
}

func TestCreateAndListRooms(t *testing.T) {
	env, svc := newTestRoomService(t, nil)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "  random ", "off topic")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.Name != "random" || room.CreatedBy != env.user.ID {
		t.Errorf("room = %+v", room)
	}
	if _, err := svc.CreateRoom(ctx, " ", ""); !errordata.IsInvalid(err) {
		t.Errorf("blank name err = %v", err)
	}
	if _, err := svc.CreateRoom(ctx, strings.Repeat("x", maxRoomNameLen+1), ""); !errordata.IsInvalid(err) {
		t.Errorf("long name err = %v", err)
	}

	env.appendUser(t, "one")
	env.appendAI(t, "two")

	rooms, err := svc.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(rooms))
	}
	counts := map[uuid.UUID]int64{}
	for _, r := range rooms {
		counts[r.ID] = r.MessageCount
	}
	if counts[env.room.ID] != 2 || counts[room.ID] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestGetRoom(t *testing.T) {
	env, svc := newTestRoomService(t, nil)
	ctx := context.Background()
	for i := 0; i < roomPreviewSize+3; i++ {
		env.appendUser(t, "m")
	}

	got, err := svc.GetRoom(ctx, env.room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != roomPreviewSize || got.MessageCount != roomPreviewSize+3 {
		t.Errorf("messages = %d, count = %d", len(got.Messages), got.MessageCount)
	}
	if got.Messages[0].Seq != 4 || got.Messages[roomPreviewSize-1].Seq != roomPreviewSize+3 {
		t.Errorf("preview seq range = %d..%d", got.Messages[0].Seq, got.Messages[roomPreviewSize-1].Seq)
	}

	if _, err := svc.GetRoom(ctx, uuid.New()); !errordata.IsNotFound(err) {
		t.Errorf("unknown room err = %v", err)
	}
	if err := svc.EnsureRoom(ctx, uuid.New()); !errordata.IsNotFound(err) {
		t.Errorf("EnsureRoom err = %v", err)
	}
}

type failingBucket struct{ *memoryBucket }

func (failingBucket) UploadFile(context.Context, string, string, io.Reader) error {
	return errors.New("bucket unavailable")
}

func TestClearRooms(t *testing.T) {
	t.Run("archive then delete", func(t *testing.T) {
		bucket := newMemoryBucket()
		env, svc := newTestRoomService(t, bucket)
		env.appendUser(t, "keep me")
		env.appendAI(t, "noted")

		res, err := svc.ClearRooms(context.Background(), true)
		if err != nil {
			t.Fatalf("ClearRooms: %v", err)
		}
		if res.Rooms != 1 || res.Messages != 2 || len(res.Archived) != 1 {
			t.Fatalf("result = %+v", res)
		}
		data, ok := bucket.get(res.Archived[0])
		if !ok {
			t.Fatal("transcript not uploaded")
		}
		var transcript roomTranscript
		if err := json.Unmarshal(data, &transcript); err != nil {
			t.Fatal(err)
		}
		if transcript.Room.ID != env.room.ID || len(transcript.Messages) != 2 || transcript.Messages[0].Content != "keep me" {
			t.Errorf("transcript = %+v", transcript)
		}
		if env.countMessages(t) != 0 {
			t.Error("messages survived clear")
		}
	})

	t.Run("archive failure keeps data", func(t *testing.T) {
		env, svc := newTestRoomService(t, failingBucket{newMemoryBucket()})
		env.appendUser(t, "still here")
		if _, err := svc.ClearRooms(context.Background(), true); err == nil {
			t.Fatal("expected error")
		}
		if env.countMessages(t) != 1 {
			t.Error("messages deleted despite archive failure")
		}
	})

	t.Run("archive without bucket", func(t *testing.T) {
		_, svc := newTestRoomService(t, nil)
		if _, err := svc.ClearRooms(context.Background(), true); !errordata.IsInvalid(err) {
			t.Errorf("err = %v, want invalid", err)
		}
	})
}
