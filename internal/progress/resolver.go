package progress

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/Proton-105/soberdays-bot/internal/domain"
	apperrors "github.com/Proton-105/soberdays-bot/internal/errors"
)

// MaxDayCount caps manual entries at roughly ten years.
const MaxDayCount = 3650

var (
	ErrNotANumber  = errors.New("day count must contain only decimal digits")
	ErrNonPositive = errors.New("day count must be positive")
	ErrTooLarge    = errors.New("day count exceeds the allowed maximum")
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// Resolution is an accepted day count and the start date derived from it.
type Resolution struct {
	DayCount  int
	StartDate time.Time
}

// Resolve parses a manually entered day count. Rejections are validation AppErrors wrapping
// ErrNotANumber, ErrNonPositive or ErrTooLarge.
func Resolve(text string, today time.Time) (Resolution, error) {
	if !digitsOnly.MatchString(text) {
		return Resolution{}, apperrors.NewValidationError("day count is not a number", ErrNotANumber)
	}

	n, err := strconv.Atoi(text)
	if err != nil {
		// Only ErrRange is possible once the pattern matched.
		return Resolution{}, apperrors.NewValidationError("day count out of range", ErrTooLarge)
	}

	switch {
	case n <= 0:
		return Resolution{}, apperrors.NewValidationError("day count out of range", ErrNonPositive)
	case n > MaxDayCount:
		return Resolution{}, apperrors.NewValidationError("day count out of range", ErrTooLarge)
	}

	return Resolution{
		DayCount:  n,
		StartDate: domain.StartDateFor(today, n),
	}, nil
}
