package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/types"
	"github.com/slotter-org/roomchat-backend/internal/utils"
)

// RoomSeed is one entry of the rooms seed file.
type RoomSeed struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SyncRooms creates every room listed in the JSON file at path that does not
// exist yet (matched by name), owned by ownerUsername. Existing rooms are left
// alone. It returns the rooms it created.
func SyncRooms(
	ctx context.Context,
	db *gorm.DB,
	log *logger.Logger,
	userRepo repos.UserRepo,
	roomRepo repos.RoomRepo,
	path string,
	ownerUsername string,
) ([]*types.Room, error) {
	seedLog := log.With("seed", "rooms")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading room seed file: %w", err)
	}
	var fileRooms []RoomSeed
	if err := json.Unmarshal(data, &fileRooms); err != nil {
		return nil, fmt.Errorf("failed unmarshaling rooms: %w", err)
	}

	var created []*types.Room
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owner, err := userRepo.GetByUsername(ctx, tx, utils.ParseInputString(ownerUsername))
		if err != nil {
			return fmt.Errorf("failed fetching seed owner %q: %w", ownerUsername, err)
		}
		existing, err := roomRepo.List(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed fetching existing rooms: %w", err)
		}
		existingNames := make(map[string]bool, len(existing))
		for _, r := range existing {
			existingNames[r.Name] = true
		}

		var toCreate []*types.Room
		for _, fr := range fileRooms {
			name := utils.ParseInputString(fr.Name)
			if name == "" || existingNames[name] {
				continue
			}
			existingNames[name] = true
			toCreate = append(toCreate, &types.Room{
				Name:        name,
				Description: utils.ParseInputString(fr.Description),
				CreatedBy:   owner.ID,
			})
		}
		if len(toCreate) == 0 {
			return nil
		}
		created, err = roomRepo.Create(ctx, tx, toCreate)
		if err != nil {
			return fmt.Errorf("failed creating rooms: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	seedLog.Info("Room seed complete :)", "created", len(created), "inFile", len(fileRooms))
	return created, nil
}
