package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/soberdays-bot/internal/domain"
)

const userColumns = `id, external_id, start_date, day_count, timezone, created_at, updated_at`

type postgresLedger struct {
	db  *sql.DB
	log *slog.Logger
}

var _ Ledger = (*postgresLedger)(nil)

// NewPostgres creates a Ledger backed by PostgreSQL through database/sql and lib/pq.
func NewPostgres(db *sql.DB, log *slog.Logger) Ledger {
	if log == nil {
		log = slog.Default()
	}

	return &postgresLedger{db: db, log: log}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(
		&u.ID,
		&u.ExternalID,
		&u.StartDate,
		&u.DayCount,
		&u.Timezone,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	u.StartDate = domain.DateOnly(u.StartDate)
	return &u, nil
}

// FindUserByExternalID retrieves a user by their Telegram identifier.
func (l *postgresLedger) FindUserByExternalID(ctx context.Context, externalID int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`

	user, err := scanUser(l.db.QueryRowContext(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}

		l.log.Error("failed to fetch user by external id", slog.Int64("external_id", externalID), slog.Any("error", err))
		return nil, fmt.Errorf("select user by external id: %w", err)
	}

	return user, nil
}

// UpsertUser creates the user or fully overwrites start date, day count and timezone.
func (l *postgresLedger) UpsertUser(ctx context.Context, externalID int64, startDate time.Time, dayCount int, timezone string) (*domain.User, error) {
	if timezone == "" {
		timezone = domain.DefaultTimezone
	}

	query := `
		INSERT INTO users (external_id, start_date, day_count, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			start_date = EXCLUDED.start_date,
			day_count  = EXCLUDED.day_count,
			timezone   = EXCLUDED.timezone,
			updated_at = NOW()
		RETURNING ` + userColumns

	user, err := scanUser(l.db.QueryRowContext(ctx, query,
		externalID,
		domain.DateOnly(startDate).Format(time.DateOnly),
		dayCount,
		timezone,
	))
	if err != nil {
		l.log.Error("failed to upsert user",
			slog.Int64("external_id", externalID),
			slog.Int("day_count", dayCount),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return user, nil
}

// DeleteUser removes the record and reports whether a row existed.
func (l *postgresLedger) DeleteUser(ctx context.Context, recordKey int64) (bool, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, recordKey)
	if err != nil {
		l.log.Error("failed to delete user", slog.Int64("record_key", recordKey), slog.Any("error", err))
		return false, fmt.Errorf("delete user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user rows affected: %w", err)
	}

	return affected > 0, nil
}

// ListAllUsers returns every tracked user ordered by record key.
func (l *postgresLedger) ListAllUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		l.log.Error("failed to list users", slog.Any("error", err))
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// SetUserDayCount patches day_count to next only if it still equals observed.
func (l *postgresLedger) SetUserDayCount(ctx context.Context, recordKey int64, observed, next int) (*domain.User, error) {
	query := `
		UPDATE users
		SET day_count = $3, updated_at = NOW()
		WHERE id = $1 AND day_count = $2
		RETURNING ` + userColumns

	user, err := scanUser(l.db.QueryRowContext(ctx, query, recordKey, observed, next))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStaleDayCount
		}

		l.log.Error("failed to update user day count",
			slog.Int64("record_key", recordKey),
			slog.Int("observed", observed),
			slog.Int("next", next),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("update user day count: %w", err)
	}

	return user, nil
}

// FindMessageForDay returns the body of the first message authored for day.
func (l *postgresLedger) FindMessageForDay(ctx context.Context, day int) (string, bool, error) {
	var body string
	err := l.db.QueryRowContext(ctx,
		`SELECT body FROM messages WHERE day = $1 ORDER BY id LIMIT 1`, day,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}

		l.log.Error("failed to fetch message for day", slog.Int("day", day), slog.Any("error", err))
		return "", false, fmt.Errorf("select message for day: %w", err)
	}

	return body, true, nil
}

// Ping verifies connectivity to the database.
func (l *postgresLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
