package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/requestdata"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

type UserRepo interface {
	// CREATE
	Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error)

	// READ
	GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error)
	GetByUsername(ctx context.Context, tx *gorm.DB, username string) (*types.User, error)
	UsernameExists(ctx context.Context, tx *gorm.DB, username string) (bool, error)
	EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error)

	// UPDATE
	UpdateAvatar(ctx context.Context, tx *gorm.DB, userID uuid.UUID, bucketKey, url string) error

	// MISC
	GetMe(ctx context.Context, tx *gorm.DB) (*types.User, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	repoLog := baseLog.With("repo", "UserRepo")
	return &userRepo{db: db, log: repoLog}
}

func (ur *userRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		ur.log.Debug("Transaction is nil, using ur.db")
		return ur.db
	}
	return tx
}

// ----------------------------------------------------------------
// CREATE
// ----------------------------------------------------------------

func (ur *userRepo) Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error) {
	ur.log.Info("Starting Create Users now...")
	transaction := ur.conn(tx)

	if len(users) == 0 {
		ur.log.Debug("Users array is empty, returning empty slice", "count", 0)
		return []*types.User{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&users).Error; err != nil {
		ur.log.Error("Failed to create users", "error", err)
		return nil, errordata.Store("UserRepo.Create", "failed to create users", err)
	}
	ur.log.Info("Successfully created users", "count", len(users))
	return users, nil
}

// ----------------------------------------------------------------
// READ
// ----------------------------------------------------------------

func (ur *userRepo) GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error) {
	ur.log.Info("Starting GetByIDs for Users now...")
	transaction := ur.conn(tx)

	var results []*types.User
	if len(userIDs) == 0 {
		ur.log.Debug("No userIDs provided, returning empty slice")
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", userIDs).
		Find(&results).Error; err != nil {
		ur.log.Error("Failed to fetch users by IDs", "error", err)
		return nil, errordata.Store("UserRepo.GetByIDs", "failed to fetch users", err)
	}
	ur.log.Info("Successfully fetched users by IDs", "count", len(results))
	return results, nil
}

func (ur *userRepo) GetByUsername(ctx context.Context, tx *gorm.DB, username string) (*types.User, error) {
	ur.log.Info("Starting GetByUsername now...", "username", username)
	transaction := ur.conn(tx)

	var user types.User
	err := transaction.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ur.log.Debug("No user with that username")
		return nil, errordata.NotFound("UserRepo.GetByUsername", "user not found", err)
	}
	if err != nil {
		ur.log.Error("Failed to fetch user by username", "error", err)
		return nil, errordata.Store("UserRepo.GetByUsername", "failed to fetch user", err)
	}
	return &user, nil
}

func (ur *userRepo) UsernameExists(ctx context.Context, tx *gorm.DB, username string) (bool, error) {
	return ur.exists(ctx, tx, "username", username)
}

func (ur *userRepo) EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
	return ur.exists(ctx, tx, "email", email)
}

func (ur *userRepo) exists(ctx context.Context, tx *gorm.DB, column, value string) (bool, error) {
	ur.log.Info("Counting users with the provided value...", "column", column)
	transaction := ur.conn(tx)

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where(fmt.Sprintf("%s = ?", column), value).
		Count(&count).Error; err != nil {
		ur.log.Error("Failed to count users", "column", column, "error", err)
		return false, errordata.Store("UserRepo.exists", "failed to count users", err)
	}
	exists := count > 0
	ur.log.Info("Exists check complete", "column", column, "exists", exists)
	return exists, nil
}

// ----------------------------------------------------------------
// UPDATE
// ----------------------------------------------------------------

func (ur *userRepo) UpdateAvatar(ctx context.Context, tx *gorm.DB, userID uuid.UUID, bucketKey, url string) error {
	ur.log.Info("Starting UpdateAvatar now...", "userID", userID)
	transaction := ur.conn(tx)

	if err := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"avatar_bucket_key": bucketKey,
			"avatar_url":        url,
		}).Error; err != nil {
		ur.log.Error("Failed to update user avatar", "error", err)
		return errordata.Store("UserRepo.UpdateAvatar", "failed to update avatar", err)
	}
	return nil
}

// ----------------------------------------------------------------
// MISC
// ----------------------------------------------------------------

func (ur *userRepo) GetMe(ctx context.Context, tx *gorm.DB) (*types.User, error) {
	ur.log.Info("Starting GetMe now...")

	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		ur.log.Warn("No user in request data")
		return nil, errordata.Auth("UserRepo.GetMe", "not authenticated", nil)
	}

	users, err := ur.GetByIDs(ctx, tx, []uuid.UUID{rd.UserID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		ur.log.Warn("User from token no longer exists", "userID", rd.UserID)
		return nil, errordata.Auth("UserRepo.GetMe", "user no longer exists", nil)
	}
	return users[0], nil
}
