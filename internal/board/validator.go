package board

import (
	"strings"
	"time"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/slot"
)

// naiveLayouts are accepted without an offset and read in the reference
// zone; this is what an HTML datetime-local input submits.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Validator admits schedule requests. Edits to the active slot never pass
// through it.
type Validator struct {
	loc *time.Location
}

func NewValidator(loc *time.Location) Validator {
	return Validator{loc: loc}
}

// ParseStartAt accepts RFC 3339 (with offset) or a naive local timestamp.
func (v Validator) ParseStartAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, v.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, newError(CodeInvalidTime, ErrInvalidTime.Message, nil)
}

// Check validates startAt against now and the current records and returns
// the minute-resolution key the schedule would occupy.
func (v Validator) Check(startAt string, now time.Time, records []models.MessageRecord) (string, error) {
	at, err := v.ParseStartAt(startAt)
	if err != nil {
		return "", err
	}
	if !at.After(now) {
		return "", newError(CodePastTime, ErrPastTime.Message, nil)
	}

	// A start later in the current minute still truncates onto a key that
	// is already active.
	key := slot.For(at, v.loc)
	if key <= slot.Now(now, v.loc) {
		return "", newError(CodePastTime, ErrPastTime.Message, nil)
	}
	for _, rec := range records {
		if rec.Key == key {
			return "", newError(CodeSlotTaken, ErrSlotTaken.Message, nil)
		}
	}
	return key, nil
}
