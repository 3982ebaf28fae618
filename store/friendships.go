package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/moviemaster/model"
	"gorm.io/gorm"
)

// Friendships is the relationship store. FindByPair matches one ordering
// only; callers probe both.
type Friendships struct {
	db *gorm.DB
}

// NewFriendships creates a Friendships store.
func NewFriendships(db *gorm.DB) *Friendships {
	return &Friendships{db: db}
}

// FindByPair returns the row requested by requesterID towards targetID.
func (s *Friendships) FindByPair(ctx context.Context, requesterID, targetID int64) (*model.Friendship, error) {
	var f model.Friendship
	err := s.db.WithContext(ctx).
		Where("requester_id = ? AND target_id = ?", requesterID, targetID).
		First(&f).Error
	if err != nil {
		return nil, fmt.Errorf("find friendship %d->%d: %w", requesterID, targetID, translate(err))
	}
	return &f, nil
}

// FindByID returns the row with the given id.
func (s *Friendships) FindByID(ctx context.Context, id int64) (*model.Friendship, error) {
	var f model.Friendship
	if err := s.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, fmt.Errorf("find friendship %d: %w", id, translate(err))
	}
	return &f, nil
}

// Save inserts or updates f. A second row for the same unordered pair
// fails with ErrDuplicate.
func (s *Friendships) Save(ctx context.Context, f *model.Friendship) (*model.Friendship, error) {
	if err := s.db.WithContext(ctx).Save(f).Error; err != nil {
		return nil, fmt.Errorf("save friendship: %w", translate(err))
	}
	return f, nil
}

// Delete removes f by id.
func (s *Friendships) Delete(ctx context.Context, f *model.Friendship) error {
	res := s.db.WithContext(ctx).Delete(&model.Friendship{}, f.ID)
	if res.Error != nil {
		return fmt.Errorf("delete friendship: %w", translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete friendship %d: %w", f.ID, ErrNotFound)
	}
	return nil
}

// FindAllByIDAndStatus returns every row with status in which id is either
// side, newest first.
func (s *Friendships) FindAllByIDAndStatus(ctx context.Context, id int64, status model.FriendshipStatus) ([]model.Friendship, error) {
	var out []model.Friendship
	err := s.db.WithContext(ctx).
		Where("(requester_id = ? OR target_id = ?) AND status = ?", id, id, status).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list friendships: %w", translate(err))
	}
	return out, nil
}

// DeletePendingBefore removes PENDING rows created before cutoff.
func (s *Friendships) DeletePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.FriendshipPending, cutoff).
		Delete(&model.Friendship{})
	if res.Error != nil {
		return 0, fmt.Errorf("expire pending friendships: %w", translate(res.Error))
	}
	return res.RowsAffected, nil
}
