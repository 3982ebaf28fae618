package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/moviemaster/model"
	"gorm.io/gorm"
)

// Accounts is the identity store.
type Accounts struct {
	db *gorm.DB
}

// NewAccounts creates an Accounts store.
func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// FindByID returns the account with the given id.
func (s *Accounts) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	var acc model.Account
	if err := s.db.WithContext(ctx).First(&acc, id).Error; err != nil {
		return nil, fmt.Errorf("find account %d: %w", id, translate(err))
	}
	return &acc, nil
}

// FindByUsername returns the account with the given username.
func (s *Accounts) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	var acc model.Account
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&acc).Error; err != nil {
		return nil, fmt.Errorf("find account %q: %w", username, translate(err))
	}
	return &acc, nil
}

// FindByEmail returns the account with the given email.
func (s *Accounts) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	var acc model.Account
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&acc).Error; err != nil {
		return nil, fmt.Errorf("find account by email: %w", translate(err))
	}
	return &acc, nil
}

// Save inserts acc when it has no id, otherwise updates every column.
func (s *Accounts) Save(ctx context.Context, acc *model.Account) (*model.Account, error) {
	if err := s.db.WithContext(ctx).Save(acc).Error; err != nil {
		return nil, fmt.Errorf("save account: %w", translate(err))
	}
	return acc, nil
}

// SetStatus updates only the status column.
func (s *Accounts) SetStatus(ctx context.Context, id int64, status int) error {
	res := s.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("set account status: %w", translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set account status %d: %w", id, ErrNotFound)
	}
	return nil
}

// TouchLogin records the last successful login. Best-effort callers may ignore the error.
func (s *Accounts) TouchLogin(ctx context.Context, id int64, ip string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_login_at": at,
			"last_login_ip": ip,
		}).Error
}
