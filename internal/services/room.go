package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/roomchat-backend/internal/cache"
	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/types"
	"github.com/slotter-org/roomchat-backend/internal/utils"
)

const (
	roomPreviewSize   = 10
	maxRoomNameLen    = 100
	maxRoomDescLength = 1000
)

type RoomService interface {
	CreateRoom(ctx context.Context, name, description string) (*types.Room, error)
	ListRooms(ctx context.Context) ([]*types.Room, error)
	GetRoom(ctx context.Context, roomID uuid.UUID) (*types.RoomWithMessages, error)
	EnsureRoom(ctx context.Context, roomID uuid.UUID) error

	ClearRooms(ctx context.Context, archive bool) (*ClearResult, error)
}

// ClearResult summarizes a ClearRooms run.
type ClearResult struct {
	Rooms      int64    `json:"rooms"`
	Messages   int64    `json:"messages"`
	Archived   []string `json:"archived,omitempty"`
	ArchivedAt string   `json:"archived_at,omitempty"`
}

type roomTranscript struct {
	Room       *types.Room         `json:"room"`
	Messages   []types.MessageView `json:"messages"`
	ArchivedAt time.Time           `json:"archived_at"`
}

type roomService struct {
	db            *gorm.DB
	log           *logger.Logger
	roomRepo      repos.RoomRepo
	messageRepo   repos.MessageRepo
	identity      IdentityVerifier
	avatarService AvatarService
	bucketService BucketService
	cache         cache.Cache
}

// NewRoomService builds the room service. avatarService and bucketService may
// be nil when object storage is not configured.
func NewRoomService(
	db *gorm.DB,
	log *logger.Logger,
	roomRepo repos.RoomRepo,
	messageRepo repos.MessageRepo,
	identity IdentityVerifier,
	avatarService AvatarService,
	bucketService BucketService,
	roomCache cache.Cache,
) RoomService {
	if roomCache == nil {
		roomCache = cache.NewNoopCache()
	}
	return &roomService{
		db:            db,
		log:           log.With("service", "RoomService"),
		roomRepo:      roomRepo,
		messageRepo:   messageRepo,
		identity:      identity,
		avatarService: avatarService,
		bucketService: bucketService,
		cache:         roomCache,
	}
}

//----------------------------------------------------------------------------------------------------------------------
// CreateRoom, ListRooms, GetRoom, EnsureRoom
//----------------------------------------------------------------------------------------------------------------------

func (rs *roomService) CreateRoom(ctx context.Context, name, description string) (*types.Room, error) {
	rs.log.Info("Starting CreateRoom now...")
	const op = "RoomService.CreateRoom"

	identity, err := rs.identity.VerifyIdentity(ctx)
	if err != nil {
		return nil, err
	}
	name = utils.ParseInputString(name)
	description = utils.ParseInputString(description)
	if name == "" {
		return nil, errordata.Invalid(op, "room name is required", nil)
	}
	if len(name) > maxRoomNameLen {
		return nil, errordata.Invalid(op, fmt.Sprintf("room name must be at most %d characters", maxRoomNameLen), nil)
	}
	if len(description) > maxRoomDescLength {
		return nil, errordata.Invalid(op, fmt.Sprintf("description must be at most %d characters", maxRoomDescLength), nil)
	}

	room := &types.Room{ID: uuid.New(), Name: name, Description: description, CreatedBy: identity.UserID}
	if rs.avatarService != nil {
		if err := rs.avatarService.CreateAndUploadRoomAvatar(ctx, room); err != nil {
			rs.log.Warn("Failed to create room avatar, continuing without one", "error", err)
		}
	}
	if _, err := rs.roomRepo.Create(ctx, nil, []*types.Room{room}); err != nil {
		return nil, err
	}
	rs.cache.Delete(ctx, cache.RoomsListKey)
	rs.log.Info("Room created :)", "roomID", room.ID)
	return room, nil
}

// ListRooms returns every room with its message count, newest first.
func (rs *roomService) ListRooms(ctx context.Context) ([]*types.Room, error) {
	if _, err := rs.identity.VerifyIdentity(ctx); err != nil {
		return nil, err
	}
	var cached []*types.Room
	if rs.cache.Get(ctx, cache.RoomsListKey, &cached) {
		return cached, nil
	}

	rooms, err := rs.roomRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	counts, err := rs.messageRepo.CountByRoomIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		r.MessageCount = counts[r.ID]
	}
	rs.cache.Set(ctx, cache.RoomsListKey, rooms)
	return rooms, nil
}

// GetRoom returns the room with its latest messages, oldest first.
func (rs *roomService) GetRoom(ctx context.Context, roomID uuid.UUID) (*types.RoomWithMessages, error) {
	if _, err := rs.identity.VerifyIdentity(ctx); err != nil {
		return nil, err
	}
	var cached types.RoomWithMessages
	if rs.cache.Get(ctx, cache.RoomKey(roomID), &cached) {
		return &cached, nil
	}

	found, err := rs.roomRepo.GetByIDs(ctx, nil, []uuid.UUID{roomID})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errordata.NotFound("RoomService.GetRoom", "room not found", nil)
	}
	room := found[0]

	recent, err := rs.messageRepo.Recent(ctx, nil, roomID, roomPreviewSize)
	if err != nil {
		return nil, err
	}
	counts, err := rs.messageRepo.CountByRoomIDs(ctx, nil, []uuid.UUID{roomID})
	if err != nil {
		return nil, err
	}
	room.MessageCount = counts[roomID]

	out := &types.RoomWithMessages{Room: *room, Messages: types.Views(recent)}
	rs.cache.Set(ctx, cache.RoomKey(roomID), out)
	return out, nil
}

func (rs *roomService) EnsureRoom(ctx context.Context, roomID uuid.UUID) error {
	exists, err := rs.roomRepo.Exists(ctx, nil, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return errordata.NotFound("RoomService.EnsureRoom", "room not found", nil)
	}
	return nil
}

//----------------------------------------------------------------------------------------------------------------------
// ClearRooms
//----------------------------------------------------------------------------------------------------------------------

// ClearRooms deletes every message and room. With archive set, each room's
// transcript is uploaded first and nothing is deleted if any upload fails.
func (rs *roomService) ClearRooms(ctx context.Context, archive bool) (*ClearResult, error) {
	rs.log.Info("Starting ClearRooms now...", "archive", archive)
	const op = "RoomService.ClearRooms"
	result := &ClearResult{}

	rooms, err := rs.roomRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}

	//1) Archive
	if archive {
		if rs.bucketService == nil {
			return nil, errordata.Invalid(op, "archiving requires GCS_BUCKET", nil)
		}
		now := time.Now().UTC()
		result.ArchivedAt = now.Format(time.RFC3339)
		for _, room := range rooms {
			key, err := rs.archiveRoom(ctx, room, now)
			if err != nil {
				rs.log.Error("Failed to archive room, Cannot proceed further. Returning error", "roomID", room.ID, "error", err)
				return nil, errordata.Store(op, "failed to archive room", err)
			}
			result.Archived = append(result.Archived, key)
		}
	}

	//2) Delete messages then rooms
	err = rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := rs.messageRepo.DeleteByRoomIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		result.Messages = n
		n, err = rs.roomRepo.DeleteByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		result.Rooms = n
		return nil
	})
	if err != nil {
		var de *errordata.Error
		if !errors.As(err, &de) {
			err = errordata.Store(op, "failed to clear rooms", err)
		}
		return nil, err
	}

	keys := []string{cache.RoomsListKey}
	for _, id := range ids {
		keys = append(keys, cache.RoomKey(id), cache.RoomMessagesKey(id))
	}
	rs.cache.Delete(ctx, keys...)
	rs.log.Info("Rooms cleared :)", "rooms", result.Rooms, "messages", result.Messages)
	return result, nil
}

func (rs *roomService) archiveRoom(ctx context.Context, room *types.Room, at time.Time) (string, error) {
	msgs, err := rs.messageRepo.ListByRoomID(ctx, nil, room.ID)
	if err != nil {
		return "", err
	}
	body, err := json.MarshalIndent(roomTranscript{Room: room, Messages: types.Views(msgs), ArchivedAt: at}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}
	key := fmt.Sprintf("room_archives/%s/%s.json", at.Format("20060102T150405Z"), room.ID)
	if err := rs.bucketService.UploadFile(ctx, key, "application/json", bytes.NewReader(body)); err != nil {
		return "", err
	}
	return key, nil
}
