package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

type RoomRepo interface {
	// CREATE
	Create(ctx context.Context, tx *gorm.DB, rooms []*types.Room) ([]*types.Room, error)

	// READ
	GetByIDs(ctx context.Context, tx *gorm.DB, roomIDs []uuid.UUID) ([]*types.Room, error)
	Exists(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) (bool, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Room, error)

	// UPDATE
	UpdateAvatar(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, bucketKey, url string) error

	// FULL (HARD) DELETE
	DeleteByIDs(ctx context.Context, tx *gorm.DB, roomIDs []uuid.UUID) (int64, error)
}

type roomRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRoomRepo(db *gorm.DB, baseLog *logger.Logger) RoomRepo {
	repoLog := baseLog.With("repo", "RoomRepo")
	return &roomRepo{db: db, log: repoLog}
}

func (rr *roomRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		rr.log.Debug("Transaction is nil, using rr.db")
		return rr.db
	}
	return tx
}

// ----------------------------------------------------------------
// CREATE
// ----------------------------------------------------------------

func (rr *roomRepo) Create(ctx context.Context, tx *gorm.DB, rooms []*types.Room) ([]*types.Room, error) {
	rr.log.Info("Starting Create Rooms now...")
	transaction := rr.conn(tx)

	if len(rooms) == 0 {
		rr.log.Debug("Rooms array is empty, returning empty slice", "count", 0)
		return []*types.Room{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rooms).Error; err != nil {
		rr.log.Error("Failed to create rooms", "error", err)
		return nil, errordata.Store("RoomRepo.Create", "failed to create rooms", err)
	}
	rr.log.Info("Successfully created rooms", "count", len(rooms))
	return rooms, nil
}

// ----------------------------------------------------------------
// READ
// ----------------------------------------------------------------

func (rr *roomRepo) GetByIDs(ctx context.Context, tx *gorm.DB, roomIDs []uuid.UUID) ([]*types.Room, error) {
	rr.log.Info("Starting GetByIDs for Rooms now...")
	transaction := rr.conn(tx)

	var results []*types.Room
	if len(roomIDs) == 0 {
		rr.log.Debug("No roomIDs provided, returning empty slice")
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", roomIDs).
		Find(&results).Error; err != nil {
		rr.log.Error("Failed to fetch rooms by IDs", "error", err)
		return nil, errordata.Store("RoomRepo.GetByIDs", "failed to fetch rooms", err)
	}
	rr.log.Info("Successfully fetched rooms by IDs", "count", len(results))
	return results, nil
}

func (rr *roomRepo) Exists(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) (bool, error) {
	transaction := rr.conn(tx)

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Room{}).
		Where("id = ?", roomID).
		Count(&count).Error; err != nil {
		rr.log.Error("Failed to count rooms by id", "error", err)
		return false, errordata.Store("RoomRepo.Exists", "failed to check room", err)
	}
	exists := count > 0
	rr.log.Debug("Room exists check complete", "roomID", roomID, "exists", exists)
	return exists, nil
}

// List returns every room, newest first.
func (rr *roomRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Room, error) {
	rr.log.Info("Starting List Rooms now...")
	transaction := rr.conn(tx)

	var results []*types.Room
	if err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Order("id").
		Find(&results).Error; err != nil {
		rr.log.Error("Failed to list rooms", "error", err)
		return nil, errordata.Store("RoomRepo.List", "failed to list rooms", err)
	}
	rr.log.Info("Successfully listed rooms", "count", len(results))
	return results, nil
}

// ----------------------------------------------------------------
// UPDATE
// ----------------------------------------------------------------

func (rr *roomRepo) UpdateAvatar(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, bucketKey, url string) error {
	transaction := rr.conn(tx)

	if err := transaction.WithContext(ctx).
		Model(&types.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"avatar_bucket_key": bucketKey,
			"avatar_url":        url,
		}).Error; err != nil {
		rr.log.Error("Failed to update room avatar", "error", err)
		return errordata.Store("RoomRepo.UpdateAvatar", "failed to update avatar", err)
	}
	return nil
}

// ----------------------------------------------------------------
// FULL (HARD) DELETE
// ----------------------------------------------------------------

func (rr *roomRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, roomIDs []uuid.UUID) (int64, error) {
	rr.log.Info("Starting DeleteByIDs for Rooms now...", "count", len(roomIDs))
	transaction := rr.conn(tx)

	if len(roomIDs) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("id IN ?", roomIDs).
		Delete(&types.Room{})
	if res.Error != nil {
		rr.log.Error("Failed to delete rooms", "error", res.Error)
		return 0, errordata.Store("RoomRepo.DeleteByIDs", "failed to delete rooms", res.Error)
	}
	rr.log.Info("Successfully deleted rooms", "count", res.RowsAffected)
	return res.RowsAffected, nil
}
