package friends

import (
	"context"

	"gorm.io/gorm"
)

// Friendship rows are written normalized in both directions by the CRUD
// layer, so a single-direction lookup is sufficient here.
type Friendship struct {
	PlayerID string `gorm:"primaryKey"`
	FriendID string `gorm:"primaryKey"`
}

type Team struct {
	ID       int64 `gorm:"primaryKey"`
	PlayerID string
	Name     string
}

// GormStore implements Collaborator against the same Postgres schema the
// CRUD layer maintains. All queries are reads.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetFriendIDs(ctx context.Context, playerID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&Friendship{}).
		Where("player_id = ?", playerID).
		Pluck("friend_id", &ids).Error
	return ids, err
}

func (s *GormStore) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Friendship{}).
		Where("player_id = ? AND friend_id = ?", a, b).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) IsTeamOwned(ctx context.Context, playerID string, teamID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Team{}).
		Where("id = ? AND player_id = ?", teamID, playerID).
		Count(&count).Error
	return count > 0, err
}
