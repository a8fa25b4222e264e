package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campus-board/community-auth-backend/internal/domain"
	"github.com/campus-board/community-auth-backend/internal/observability"
)

var ErrOtpNotFound = errors.New("otp challenge not found")

// OtpRepository persists EmailOtp rows. Methods take the transaction
// handle of the enclosing unit of work: every read-modify-write on a
// challenge happens under the FOR UPDATE lock taken by FindForUpdate,
// inside one transaction.
type OtpRepository interface {
	FindForUpdate(tx *gorm.DB, email string, purpose domain.OtpPurpose) (*domain.EmailOtp, error)
	Create(tx *gorm.DB, otp *domain.EmailOtp) error
	Save(tx *gorm.DB, otp *domain.EmailOtp) error
	Delete(tx *gorm.DB, otp *domain.EmailOtp) error
}

type GormOtpRepository struct{}

func NewOtpRepository() OtpRepository { return &GormOtpRepository{} }

func (r *GormOtpRepository) FindForUpdate(tx *gorm.DB, email string, purpose domain.OtpPurpose) (*domain.EmailOtp, error) {
	var otp domain.EmailOtp
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("email = ? AND purpose = ?", email, purpose).
		First(&otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "email_otp", "find_for_update", "not_found")
			return nil, ErrOtpNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "email_otp", "find_for_update", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "email_otp", "find_for_update", "success")
	return &otp, nil
}

// Create surfaces gorm.ErrDuplicatedKey unchanged: the unique
// (email, purpose) constraint is the arbiter of concurrent first
// requests and the caller handles the loser's retry.
func (r *GormOtpRepository) Create(tx *gorm.DB, otp *domain.EmailOtp) error {
	err := tx.Create(otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "email_otp", "create", "duplicate")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "email_otp", "create", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "email_otp", "create", "success")
	return nil
}

func (r *GormOtpRepository) Save(tx *gorm.DB, otp *domain.EmailOtp) error {
	err := tx.Save(otp).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "email_otp", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "email_otp", "save", "success")
	return nil
}

func (r *GormOtpRepository) Delete(tx *gorm.DB, otp *domain.EmailOtp) error {
	err := tx.Delete(otp).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "email_otp", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "email_otp", "delete", "success")
	return nil
}
