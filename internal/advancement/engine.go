// Package advancement moves every tracked user one day forward and delivers the milestone
// message for the day they are leaving.
package advancement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Proton-105/soberdays-bot/internal/domain"
	apperrors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/internal/i18n"
	"github.com/Proton-105/soberdays-bot/internal/ledger"
	"github.com/Proton-105/soberdays-bot/pkg/metrics"
)

// DefaultConcurrency bounds how many users are processed at once.
const DefaultConcurrency = 4

// MilestoneLookup resolves the message authored for a day.
type MilestoneLookup interface {
	Lookup(ctx context.Context, day int) (string, bool, error)
}

// Sender delivers a direct message and reports whether it was accepted.
type Sender interface {
	SendDirect(ctx context.Context, externalID int64, text string) bool
}

// Formatter renders the delivered text for a day and its milestone body.
type Formatter func(day int, body string) string

// DailyFormatter renders the "advancement.daily" catalog entry.
func DailyFormatter(t i18n.Translator) Formatter {
	return func(day int, body string) string {
		return t.Tf("advancement.daily", day, body)
	}
}

// Summary reports the outcome of one batch.
type Summary struct {
	UsersProcessed int `json:"usersProcessed"`
	MessagesSent   int `json:"messagesSent"`
	Advanced       int `json:"advanced"`
	Failed         int `json:"failed"`
}

type userResult struct {
	sent     bool
	advanced bool
	failed   bool
}

type Engine struct {
	ledger      ledger.Ledger
	milestones  MilestoneLookup
	sender      Sender
	format      Formatter
	locker      Locker
	concurrency int
	log         *slog.Logger
}

type Option func(*Engine)

func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLocker serializes runs through l.
func WithLocker(l Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

func WithFormatter(f Formatter) Option {
	return func(e *Engine) {
		if f != nil {
			e.format = f
		}
	}
}

func NewEngine(l ledger.Ledger, milestones MilestoneLookup, sender Sender, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		ledger:      l,
		milestones:  milestones,
		sender:      sender,
		concurrency: DefaultConcurrency,
		log:         log,
		format: func(day int, body string) string {
			return fmt.Sprintf("Day %d\n\n%s", day, body)
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes one batch. Only a failure to acquire the lock or to fetch the user set is
// returned as an error; per-user failures are logged and counted in the summary.
//
// Users without a milestone for their current day still advance.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx)
		if err != nil {
			metrics.RecordAdvancementRun("locked", time.Since(start))
			return Summary{}, err
		}
		defer release()
	}

	var users []domain.User
	err := apperrors.WithRetry(ctx, func() error {
		var listErr error
		users, listErr = e.ledger.ListAllUsers(ctx)
		if listErr != nil {
			return apperrors.NewBackingStoreError("list users", listErr)
		}
		return nil
	})
	if err != nil {
		e.log.Error("advancement batch aborted: cannot fetch users", slog.Any("error", err))
		metrics.RecordAdvancementRun("error", time.Since(start))
		return Summary{}, err
	}

	results := make([]userResult, len(users))
	p := pool.New().WithMaxGoroutines(e.concurrency)
	for i := range users {
		p.Go(func() {
			results[i] = e.advanceUserSafely(ctx, users[i])
		})
	}
	p.Wait()

	summary := Summary{UsersProcessed: len(users)}
	for _, r := range results {
		if r.sent {
			summary.MessagesSent++
		}
		if r.advanced {
			summary.Advanced++
		}
		if r.failed {
			summary.Failed++
		}
	}

	e.log.Info("advancement batch finished",
		slog.Int("users_processed", summary.UsersProcessed),
		slog.Int("messages_sent", summary.MessagesSent),
		slog.Int("advanced", summary.Advanced),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	metrics.RecordAdvancementRun("success", time.Since(start))

	return summary, nil
}

func (e *Engine) advanceUserSafely(ctx context.Context, user domain.User) (res userResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic while advancing user",
				slog.Int64("external_id", user.ExternalID),
				slog.Any("panic", r),
			)
			metrics.RecordAdvancementUser("failed")
			res.failed = true
		}
	}()

	return e.advanceUser(ctx, user)
}

func (e *Engine) advanceUser(ctx context.Context, user domain.User) userResult {
	var res userResult
	log := e.log.With(slog.Int64("external_id", user.ExternalID), slog.Int("day_count", user.DayCount))

	body, found, err := e.milestones.Lookup(ctx, user.DayCount)
	if err != nil {
		log.Error("milestone lookup failed", slog.Any("error", err))
		metrics.RecordAdvancementUser("failed")
		res.failed = true
		return res
	}

	if found {
		if !e.sender.SendDirect(ctx, user.ExternalID, e.format(user.DayCount, body)) {
			derr := apperrors.NewDeliveryError(user.ExternalID, nil)
			log.Warn("milestone not delivered, counter held", slog.String("code", derr.Code), slog.String("error", derr.Error()))
			metrics.RecordDeliveryFailure()
			metrics.RecordAdvancementUser("held")
			res.failed = true
			return res
		}
		metrics.RecordMessageSent()
		res.sent = true
	}

	if _, err := e.ledger.SetUserDayCount(ctx, user.ID, user.DayCount, user.DayCount+1); err != nil {
		if errors.Is(err, ledger.ErrStaleDayCount) {
			nerr := apperrors.NewNotFoundError("user at observed day count", err)
			log.Warn("user changed during batch, skipped", slog.String("code", nerr.Code))
			metrics.RecordAdvancementUser("stale")
			return res
		}

		log.Error("failed to advance day count", slog.Any("error", err))
		metrics.RecordAdvancementUser("failed")
		res.failed = true
		return res
	}

	metrics.RecordAdvancementUser("advanced")
	res.advanced = true
	return res
}
