// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Proton-105/soberdays-bot/internal/domain"
	"github.com/Proton-105/soberdays-bot/internal/ledger"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MemoryLedger is a goroutine-safe in-memory ledger.Ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*domain.User
	messages []domain.Message

	// Err, when set for an operation name, is returned by that operation.
	Err map[string]error
	// Writes counts mutating calls that reached the store.
	Writes int
}

var _ ledger.Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		users: make(map[int64]*domain.User),
		Err:   make(map[string]error),
	}
}

// AddUser inserts a user record directly and returns its record key.
func (m *MemoryLedger) AddUser(externalID int64, startDate time.Time, dayCount int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now().UTC()
	m.users[externalID] = &domain.User{
		ID:         m.nextID,
		ExternalID: externalID,
		StartDate:  domain.DateOnly(startDate),
		DayCount:   dayCount,
		Timezone:   domain.DefaultTimezone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return m.nextID
}

// AddMessage appends a milestone message.
func (m *MemoryLedger) AddMessage(day int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, domain.Message{ID: int64(len(m.messages) + 1), Day: day, Body: body})
}

// User returns a copy of the stored record for externalID.
func (m *MemoryLedger) User(externalID int64) (domain.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[externalID]
	if !ok {
		return domain.User{}, false
	}
	return *u, true
}

func (m *MemoryLedger) fail(op string) error {
	return m.Err[op]
}

func (m *MemoryLedger) FindUserByExternalID(_ context.Context, externalID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("FindUserByExternalID"); err != nil {
		return nil, err
	}

	u, ok := m.users[externalID]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MemoryLedger) UpsertUser(_ context.Context, externalID int64, startDate time.Time, dayCount int, timezone string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("UpsertUser"); err != nil {
		return nil, err
	}
	m.Writes++

	if timezone == "" {
		timezone = domain.DefaultTimezone
	}

	now := time.Now().UTC()
	u, ok := m.users[externalID]
	if !ok {
		m.nextID++
		u = &domain.User{ID: m.nextID, ExternalID: externalID, CreatedAt: now}
		m.users[externalID] = u
	}
	u.StartDate = domain.DateOnly(startDate)
	u.DayCount = dayCount
	u.Timezone = timezone
	u.UpdatedAt = now

	copied := *u
	return &copied, nil
}

func (m *MemoryLedger) DeleteUser(_ context.Context, recordKey int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("DeleteUser"); err != nil {
		return false, err
	}
	m.Writes++

	for externalID, u := range m.users {
		if u.ID == recordKey {
			delete(m.users, externalID)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryLedger) ListAllUsers(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("ListAllUsers"); err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemoryLedger) SetUserDayCount(_ context.Context, recordKey int64, observed, next int) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("SetUserDayCount"); err != nil {
		return nil, err
	}

	for _, u := range m.users {
		if u.ID != recordKey {
			continue
		}
		if u.DayCount != observed {
			return nil, ledger.ErrStaleDayCount
		}
		m.Writes++
		u.DayCount = next
		u.UpdatedAt = time.Now().UTC()
		copied := *u
		return &copied, nil
	}
	return nil, ledger.ErrStaleDayCount
}

func (m *MemoryLedger) FindMessageForDay(_ context.Context, day int) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("FindMessageForDay"); err != nil {
		return "", false, err
	}

	for _, msg := range m.messages {
		if msg.Day == day {
			return msg.Body, true, nil
		}
	}
	return "", false, nil
}

func (m *MemoryLedger) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fail("Ping")
}
