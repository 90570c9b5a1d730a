package board

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lalith-99/capyboard/internal/models"
)

const (
	DefaultMessage          = "Tap settings to edit this message."
	DefaultMaxMessageLength = 100
)

// Content holds the text rules applied to every message on the way in and
// on the way out.
type Content struct {
	DefaultMessage string
	MaxLength      int
}

func DefaultContent() Content {
	return Content{DefaultMessage: DefaultMessage, MaxLength: DefaultMaxMessageLength}
}

// Sanitize trims s, substitutes the placeholder for empty input and cuts
// the result to MaxLength runes.
func (c Content) Sanitize(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		trimmed = c.DefaultMessage
	}
	if c.MaxLength > 0 && utf8.RuneCountInString(trimmed) > c.MaxLength {
		runes := []rune(trimmed)
		trimmed = string(runes[:c.MaxLength])
	}
	return trimmed
}

// Resolve derives the board state from every record at the instant
// represented by nowKey. Records with key <= nowKey are history and the
// greatest of them is active; the rest are scheduled, ascending.
//
// With no history it falls back to the placeholder dated nowKey. Callers
// normally prevent that by seeding the store first.
func Resolve(nowKey string, records []models.MessageRecord, content Content) models.MessageState {
	sorted := make([]models.MessageRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	state := models.MessageState{
		ActiveMessage:      content.Sanitize(""),
		ActiveBackgroundID: DefaultBackgroundID,
		UpdatedAt:          nowKey,
		ScheduledMessages:  make([]models.ScheduledMessage, 0),
	}

	for _, rec := range sorted {
		message := content.Sanitize(rec.Content)
		background := NormalizeBackground(rec.BackgroundID)

		if rec.Key <= nowKey {
			state.ActiveMessage = message
			state.ActiveBackgroundID = background
			state.UpdatedAt = rec.Key
			continue
		}

		state.ScheduledMessages = append(state.ScheduledMessages, models.ScheduledMessage{
			ID:           rec.Key,
			Message:      message,
			BackgroundID: background,
			StartAt:      rec.Key,
			CreatedAt:    rec.Key,
		})
	}

	return state
}
