package ledger

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{"id", "external_id", "start_date", "day_count", "timezone", "created_at", "updated_at"}

func newTestLedger(t *testing.T) (Ledger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgres(db, slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func TestFindUserByExternalID_Found(t *testing.T) {
	l, mock := newTestLedger(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE external_id = $1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(int64(1), int64(42), start, 5, "UTC", now, now))

	user, err := l.FindUserByExternalID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, 5, user.DayCount)
	assert.True(t, start.Equal(user.StartDate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUserByExternalID_NotFound(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE external_id = $1`)).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	_, err := l.FindUserByExternalID(context.Background(), 7)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpsertUser_PassesDateOnlyStartDate(t *testing.T) {
	l, mock := newTestLedger(t)
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (external_id) DO UPDATE SET`)).
		WithArgs(int64(42), "2024-01-10", 5, "UTC").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(int64(3), int64(42), start, 5, "UTC", now, now))

	user, err := l.UpsertUser(context.Background(), 42, start.Add(15*time.Hour), 5, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), user.ID)
	assert.Equal(t, "UTC", user.Timezone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUser_PropagatesStoreError(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectQuery("INSERT INTO users").WillReturnError(errors.New("connection reset"))

	_, err := l.UpsertUser(context.Background(), 42, time.Now(), 1, "UTC")
	assert.Error(t, err)
}

func TestDeleteUser_ReportsExistence(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))

	existed, err := l.DeleteUser(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = l.DeleteUser(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAllUsers_ReturnsRowsInOrder(t *testing.T) {
	l, mock := newTestLedger(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(int64(1), int64(10), start, 5, "UTC", now, now).
			AddRow(int64(2), int64(20), start, 9, "Europe/Moscow", now, now))

	users, err := l.ListAllUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(10), users[0].ExternalID)
	assert.Equal(t, 9, users[1].DayCount)
}

func TestSetUserDayCount_Stale(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 AND day_count = $2`)).
		WithArgs(int64(1), 5, 6).
		WillReturnError(sql.ErrNoRows)

	_, err := l.SetUserDayCount(context.Background(), 1, 5, 6)
	assert.ErrorIs(t, err, ErrStaleDayCount)
}

func TestSetUserDayCount_Applied(t *testing.T) {
	l, mock := newTestLedger(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SET day_count = $3, updated_at = NOW()`)).
		WithArgs(int64(1), 5, 6).
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(int64(1), int64(10), start, 6, "UTC", now, now))

	user, err := l.SetUserDayCount(context.Background(), 1, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, user.DayCount)
	assert.True(t, start.Equal(user.StartDate))
}

func TestFindMessageForDay(t *testing.T) {
	l, mock := newTestLedger(t)
	query := regexp.QuoteMeta(`SELECT body FROM messages WHERE day = $1 ORDER BY id LIMIT 1`)

	mock.ExpectQuery(query).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow("Неделя!"))
	mock.ExpectQuery(query).WithArgs(8).WillReturnError(sql.ErrNoRows)

	body, found, err := l.FindMessageForDay(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Неделя!", body)

	body, found, err = l.FindMessageForDay(context.Background(), 8)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, body)
}
