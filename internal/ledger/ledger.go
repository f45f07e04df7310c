// Package ledger persists user timelines and milestone messages.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/soberdays-bot/internal/domain"
)

var (
	// ErrUserNotFound indicates that no user record exists for the given identifier.
	ErrUserNotFound = errors.New("user record not found")
	// ErrStaleDayCount indicates that a conditional day-count update observed a different value
	// (or a deleted record) and changed nothing.
	ErrStaleDayCount = errors.New("user day count changed concurrently")
)

// Ledger is the persistent record store for Users and Messages.
//
// UpsertUser is a full overwrite of start date, day count and timezone. SetUserDayCount is a targeted
// patch of day_count only and never touches the other columns.
type Ledger interface {
	FindUserByExternalID(ctx context.Context, externalID int64) (*domain.User, error)
	UpsertUser(ctx context.Context, externalID int64, startDate time.Time, dayCount int, timezone string) (*domain.User, error)
	DeleteUser(ctx context.Context, recordKey int64) (bool, error)
	ListAllUsers(ctx context.Context) ([]domain.User, error)
	SetUserDayCount(ctx context.Context, recordKey int64, observed, next int) (*domain.User, error)
	FindMessageForDay(ctx context.Context, day int) (string, bool, error)
	Ping(ctx context.Context) error
}
