package model

import (
	"time"

	"gorm.io/gorm"
)

// FriendshipStatus is the lifecycle state of a friendship.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "PENDING"
	FriendshipAccepted FriendshipStatus = "ACCEPTED"
	FriendshipRejected FriendshipStatus = "REJECTED"
)

// Valid reports whether s is a known status.
func (s FriendshipStatus) Valid() bool {
	switch s {
	case FriendshipPending, FriendshipAccepted, FriendshipRejected:
		return true
	}
	return false
}

// Terminal reports whether s is ACCEPTED or REJECTED.
func (s FriendshipStatus) Terminal() bool {
	return s == FriendshipAccepted || s == FriendshipRejected
}

// Friendship is a directed request between two accounts. RequesterID and
// TargetID keep the direction; PairLow/PairHigh hold the unordered pair and
// carry the unique index so only one row can exist per pair.
type Friendship struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID int64            `gorm:"index:idx_friend_requester;not null" json:"requester_id"`
	TargetID    int64            `gorm:"index:idx_friend_target;not null" json:"target_id"`
	PairLow     int64            `gorm:"uniqueIndex:idx_friend_pair;not null" json:"-"`
	PairHigh    int64            `gorm:"uniqueIndex:idx_friend_pair;not null" json:"-"`
	Status      FriendshipStatus `gorm:"size:16;index;not null" json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// CanonicalPair orders a and b so that (a,b) and (b,a) map to the same key.
func CanonicalPair(a, b int64) (low, high int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// BeforeSave keeps the canonical pair in sync with the direction fields.
func (f *Friendship) BeforeSave(_ *gorm.DB) error {
	f.PairLow, f.PairHigh = CanonicalPair(f.RequesterID, f.TargetID)
	return nil
}

// Involves reports whether id is either side of the friendship.
func (f *Friendship) Involves(id int64) bool {
	return f.RequesterID == id || f.TargetID == id
}

// Other returns the side that is not id.
func (f *Friendship) Other(id int64) int64 {
	if f.RequesterID == id {
		return f.TargetID
	}
	return f.RequesterID
}
