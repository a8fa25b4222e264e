package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/observability"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindByID(db *gorm.DB, id uint) (*domain.User, error)
	FindByEmail(db *gorm.DB, email string) (*domain.User, error)
	ExistsByEmail(db *gorm.DB, email string) (bool, error)
	ExistsByNickname(db *gorm.DB, nickname string) (bool, error)
	Create(db *gorm.DB, user *domain.User) error
	Save(db *gorm.DB, user *domain.User) error
}

type GormUserRepository struct{}

func NewUserRepository() UserRepository { return &GormUserRepository{} }

func (r *GormUserRepository) FindByID(db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	err := db.First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	err := db.Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) ExistsByEmail(db *gorm.DB, email string) (bool, error) {
	var count int64
	err := db.Model(&domain.User{}).Where("email = ?", email).Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "exists_by_email", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "exists_by_email", "success")
	return count > 0, nil
}

func (r *GormUserRepository) ExistsByNickname(db *gorm.DB, nickname string) (bool, error) {
	var count int64
	err := db.Model(&domain.User{}).Where("nickname = ?", nickname).Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "exists_by_nickname", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "exists_by_nickname", "success")
	return count > 0, nil
}

// Create surfaces gorm.ErrDuplicatedKey unchanged; the signup flow
// re-classifies it against the email and nickname constraints.
func (r *GormUserRepository) Create(db *gorm.DB, user *domain.User) error {
	err := db.Create(user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "user", "create", "duplicate")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "user", "create", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "create", "success")
	return nil
}

func (r *GormUserRepository) Save(db *gorm.DB, user *domain.User) error {
	err := db.Save(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "save", "success")
	return nil
}
