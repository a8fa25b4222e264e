package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/campus-board/community-auth-backend/internal/apperr"
)

// inTx runs one unit of work. Policy violations (typed errors) pass
// through and roll the transaction back; anything else, like a lock
// timeout or a lost store, is an infrastructure failure the caller may
// retry.
func inTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	err := db.WithContext(ctx).Transaction(fn)
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) || errors.Is(err, errLostInsertRace) {
		return err
	}
	return apperr.Unavailable(err)
}
