package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists refresh-session rows. FindByHashForUpdate
// is the lock acquisition of the rotate/revoke unit of work: two
// rotations of the same secret serialize on the row, so only the first
// sees it active.
type SessionRepository interface {
	Create(tx *gorm.DB, s *domain.Session) error
	FindByHashForUpdate(tx *gorm.DB, hash string) (*domain.Session, error)
	Save(tx *gorm.DB, s *domain.Session) error
	ListActiveByUserID(db *gorm.DB, userID uint, now time.Time) ([]domain.Session, error)
	RevokeAllByUserID(tx *gorm.DB, userID uint, reason domain.RevokeReason, now time.Time) (int64, error)
	DeleteExpiredBefore(db *gorm.DB, cutoff time.Time) (int64, error)
}

type GormSessionRepository struct{}

func NewSessionRepository() SessionRepository { return &GormSessionRepository{} }

func (r *GormSessionRepository) Create(tx *gorm.DB, s *domain.Session) error {
	err := tx.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByHashForUpdate(tx *gorm.DB, hash string) (*domain.Session, error) {
	var s domain.Session
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_hash = ?", hash).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash_for_update", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash_for_update", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash_for_update", "success")
	return &s, nil
}

func (r *GormSessionRepository) Save(tx *gorm.DB, s *domain.Session) error {
	err := tx.Save(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "save", "success")
	return nil
}

func (r *GormSessionRepository) ListActiveByUserID(db *gorm.DB, userID uint, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := db.Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) RevokeAllByUserID(tx *gorm.DB, userID uint, reason domain.RevokeReason, now time.Time) (int64, error) {
	res := tx.Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": now, "revoke_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_all_by_user_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_all_by_user_id", "success")
	return res.RowsAffected, nil
}

// DeleteExpiredBefore is the ops sweep. It only touches rows whose
// expiry is long past; recently rotated rows stay as reuse tripwires.
func (r *GormSessionRepository) DeleteExpiredBefore(db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.Where("expires_at <= ?", cutoff).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired_before", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired_before", "success")
	return res.RowsAffected, nil
}
