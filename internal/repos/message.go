package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

// MessageRepo is the append-only message log. Within a room, messages are
// ordered by seq; created_at never decreases as seq grows.
type MessageRepo interface {
	// CREATE
	Append(ctx context.Context, tx *gorm.DB, draft types.MessageDraft) (*types.Message, error)

	// READ
	Recent(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, limit int) ([]*types.Message, error)
	RecentUpTo(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, seq int64, limit int) ([]*types.Message, error)
	Page(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, offset, limit int) ([]*types.Message, error)
	ListByRoomID(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) ([]*types.Message, error)
	GetByCorrelationID(ctx context.Context, tx *gorm.DB, correlationID string) (*types.Message, error)
	GetReplyTo(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, correlationID string) (*types.Message, error)
	PendingUpTo(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, seq int64) ([]*types.Message, error)
	CountByRoomIDs(ctx context.Context, tx *gorm.DB, roomIDs []uuid.UUID) (map[uuid.UUID]int64, error)

	// FULL (HARD) DELETE
	DeleteByRoomIDs(ctx context.Context, tx *gorm.DB, roomIDs []uuid.UUID) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{
		db:  db,
		log: baseLog.With("repo", "MessageRepo"),
		now: time.Now,
	}
}

func (mr *messageRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return mr.db
	}
	return tx
}

// ----------------------------------------------------------------
// CREATE
// ----------------------------------------------------------------

// Append writes one message at the tail of its room. The room row is locked
// for the duration so seq and created_at are assigned without races.
func (mr *messageRepo) Append(ctx context.Context, tx *gorm.DB, draft types.MessageDraft) (*types.Message, error) {
	log := mr.log.With("roomID", draft.RoomID, "messageType", draft.Type)
	log.Info("Starting Append Message now...")

	//1) Validate draft
	if err := draft.Validate(); err != nil {
		log.Warn("Rejected message draft", "error", err)
		return nil, errordata.Invalid("MessageRepo.Append", err.Error(), err)
	}

	var out *types.Message
	write := func(t *gorm.DB) error {
		//2) Lock room row
		var room types.Room
		err := t.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", draft.RoomID).
			First(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errordata.NotFound("MessageRepo.Append", "room not found", err)
		}
		if err != nil {
			return errordata.Store("MessageRepo.Append", "failed to lock room", err)
		}

		//3) Read current tail
		var tail []types.Message
		if err := t.WithContext(ctx).
			Where("room_id = ?", draft.RoomID).
			Order("seq DESC").
			Limit(1).
			Find(&tail).Error; err != nil {
			return errordata.Store("MessageRepo.Append", "failed to read room tail", err)
		}

		//4) Assign identity, seq and timestamp
		correlationID, err := uuid.NewV7()
		if err != nil {
			return errordata.Store("MessageRepo.Append", "failed to generate correlation id", err)
		}
		createdAt := mr.now().UTC().Truncate(time.Microsecond)
		seq := int64(1)
		if len(tail) > 0 {
			seq = tail[0].Seq + 1
			if prev := tail[0].CreatedAt.UTC(); createdAt.Before(prev) {
				createdAt = prev
			}
		}

		msg := &types.Message{
			ID:            uuid.New(),
			CorrelationID: correlationID.String(),
			RoomID:        draft.RoomID,
			UserID:        draft.AuthorID,
			Seq:           seq,
			Content:       draft.Content,
			MessageType:   draft.Type,
			DisplayName:   draft.DisplayName,
			Metadata:      draft.Metadata,
			CreatedAt:     createdAt,
		}

		//5) Insert
		if err := t.WithContext(ctx).Create(msg).Error; err != nil {
			return errordata.Store("MessageRepo.Append", "failed to insert message", err)
		}
		out = msg
		return nil
	}

	var err error
	if tx != nil {
		err = write(tx)
	} else {
		err = mr.db.WithContext(ctx).Transaction(write)
	}
	if err != nil {
		if errordata.IsNotFound(err) {
			log.Warn("Room not found for append")
		} else {
			log.Error("Failed to append message. Returning error", "error", err)
		}
		return nil, wrapStore("MessageRepo.Append", err)
	}
	log.Info("Successfully appended message", "correlationID", out.CorrelationID, "seq", out.Seq)
	return out, nil
}

// ----------------------------------------------------------------
// READ
// ----------------------------------------------------------------

// Recent returns up to limit most recent messages of a room, oldest first.
func (mr *messageRepo) Recent(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, limit int) ([]*types.Message, error) {
	return mr.recent(ctx, tx, roomID, 0, limit)
}

// RecentUpTo is Recent with the window ending at seq (inclusive).
func (mr *messageRepo) RecentUpTo(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, seq int64, limit int) ([]*types.Message, error) {
	return mr.recent(ctx, tx, roomID, seq, limit)
}

func (mr *messageRepo) recent(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, upTo int64, limit int) ([]*types.Message, error) {
	mr.log.Debug("Fetching recent messages", "roomID", roomID, "upTo", upTo, "limit", limit)
	msgs := []*types.Message{}
	if limit <= 0 {
		return msgs, nil
	}

	q := mr.conn(tx).WithContext(ctx).Where("room_id = ?", roomID)
	if upTo > 0 {
		q = q.Where("seq <= ?", upTo)
	}
	if err := q.Order("seq DESC").Limit(limit).Find(&msgs).Error; err != nil {
		mr.log.Error("Failed to fetch recent messages", "roomID", roomID, "error", err)
		return nil, errordata.Store("MessageRepo.Recent", "failed to fetch messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Page returns messages in ascending seq order. Appends only extend the tail,
// so a page once read never changes.
func (mr *messageRepo) Page(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, offset, limit int) ([]*types.Message, error) {
	mr.log.Debug("Fetching message page", "roomID", roomID, "offset", offset, "limit", limit)
	msgs := []*types.Message{}
	if limit <= 0 {
		return msgs, nil
	}
	if offset < 0 {
		offset = 0
	}
	if err := mr.conn(tx).WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&msgs).Error; err != nil {
		mr.log.Error("Failed to fetch message page", "roomID", roomID, "error", err)
		return nil, errordata.Store("MessageRepo.Page", "failed to fetch messages", err)
	}
	return msgs, nil
}

func (mr *messageRepo) ListByRoomID(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) ([]*types.Message, error) {
	msgs := []*types.Message{}
	if err := mr.conn(tx).WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq ASC").
		Find(&msgs).Error; err != nil {
		mr.log.Error("Failed to list room messages", "roomID", roomID, "error", err)
		return nil, errordata.Store("MessageRepo.ListByRoomID", "failed to fetch messages", err)
	}
	return msgs, nil
}

func (mr *messageRepo) GetByCorrelationID(ctx context.Context, tx *gorm.DB, correlationID string) (*types.Message, error) {
	var msg types.Message
	err := mr.conn(tx).WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errordata.NotFound("MessageRepo.GetByCorrelationID", "message not found", err)
	}
	if err != nil {
		mr.log.Error("Failed to fetch message by correlation id", "correlationID", correlationID, "error", err)
		return nil, errordata.Store("MessageRepo.GetByCorrelationID", "failed to fetch message", err)
	}
	return &msg, nil
}

// GetReplyTo finds the AI message whose metadata points at correlationID.
func (mr *messageRepo) GetReplyTo(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, correlationID string) (*types.Message, error) {
	var msg types.Message
	err := mr.conn(tx).WithContext(ctx).
		Where("room_id = ? AND message_type = ?", roomID, types.MessageTypeAI).
		Where(datatypes.JSONQuery("metadata").Equals(correlationID, "in_reply_to")).
		Order("seq ASC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errordata.NotFound("MessageRepo.GetReplyTo", "reply not found", err)
	}
	if err != nil {
		mr.log.Error("Failed to fetch reply", "correlationID", correlationID, "error", err)
		return nil, errordata.Store("MessageRepo.GetReplyTo", "failed to fetch reply", err)
	}
	return &msg, nil
}

// PendingUpTo returns the user messages up to seq (inclusive) that still wait
// for a reply, oldest first. Replies are stored in the order of the messages
// they answer, so only messages after the one answered by the latest reply
// count as pending.
func (mr *messageRepo) PendingUpTo(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, seq int64) ([]*types.Message, error) {
	const op = "MessageRepo.PendingUpTo"
	db := mr.conn(tx).WithContext(ctx)

	//1) Latest reply in the room
	var floor int64
	var last types.Message
	err := db.Where("room_id = ? AND message_type = ?", roomID, types.MessageTypeAI).
		Order("seq DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		mr.log.Error("Failed to fetch latest reply", "roomID", roomID, "error", err)
		return nil, errordata.Store(op, "failed to fetch latest reply", err)
	}

	//2) The message it answered sets the floor
	if last.ID != uuid.Nil {
		meta, err := last.AIMeta()
		if err != nil {
			return nil, errordata.Store(op, "stored reply has bad metadata", err)
		}
		floor = last.Seq
		if meta.InReplyTo != "" {
			var answered types.Message
			err := db.Where("room_id = ? AND correlation_id = ?", roomID, meta.InReplyTo).
				Limit(1).
				Find(&answered).Error
			if err != nil {
				mr.log.Error("Failed to fetch answered message", "roomID", roomID, "error", err)
				return nil, errordata.Store(op, "failed to fetch answered message", err)
			}
			if answered.ID != uuid.Nil {
				floor = answered.Seq
			}
		}
	}

	//3) User messages after the floor
	msgs := []*types.Message{}
	if err := db.Where("room_id = ? AND message_type = ? AND seq > ? AND seq <= ?", roomID, types.MessageTypeUser, floor, seq).
		Order("seq ASC").
		Find(&msgs).Error; err != nil {
		mr.log.Error("Failed to fetch pending messages", "roomID", roomID, "error", err)
		return nil, errordata.Store(op, "failed to fetch pending messages", err)
	}
	return msgs, nil
}

// CountByRoomIDs returns message counts keyed by room. Rooms without messages
// are present with a zero count.
func (mr *messageRepo) CountByRoomIDs(ctx context.Context, tx *gorm.DB, roomIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(roomIDs))
	if len(roomIDs) == 0 {
		return counts, nil
	}
	for _, id := range roomIDs {
		counts[id] = 0
	}

	var rows []struct {
		RoomID uuid.UUID
		Count  int64
	}
	if err := mr.conn(tx).WithContext(ctx).
		Model(&types.Message{}).
		Select("room_id, COUNT(*) AS count").
		Where("room_id IN ?", roomIDs).
		Group("room_id").
		Scan(&rows).Error; err != nil {
		mr.log.Error("Failed to count messages by room", "error", err)
		return nil, errordata.Store("MessageRepo.CountByRoomIDs", "failed to count messages", err)
	}
	for _, r := range rows {
		counts[r.RoomID] = r.Count
	}
	return counts, nil
}

// ----------------------------------------------------------------
// FULL (HARD) DELETE
// ----------------------------------------------------------------

// DeleteByRoomIDs is only used by the clear-rooms admin command.
func (mr *messageRepo) DeleteByRoomIDs(ctx context.Context, tx *gorm.DB, roomIDs []uuid.UUID) (int64, error) {
	if len(roomIDs) == 0 {
		return 0, nil
	}
	res := mr.conn(tx).WithContext(ctx).
		Where("room_id IN ?", roomIDs).
		Delete(&types.Message{})
	if res.Error != nil {
		mr.log.Error("Failed to delete messages", "error", res.Error)
		return 0, errordata.Store("MessageRepo.DeleteByRoomIDs", "failed to delete messages", res.Error)
	}
	mr.log.Info("Deleted messages", "count", res.RowsAffected)
	return res.RowsAffected, nil
}

// wrapStore leaves classified errors alone and marks anything else as a
// store failure.
func wrapStore(op string, err error) error {
	var de *errordata.Error
	if errors.As(err, &de) {
		return err
	}
	return errordata.Store(op, "storage failure", err)
}
