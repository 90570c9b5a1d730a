package models

// MessageRecord is one persisted message, addressed by its effective timestamp.
//
// Key is a canonical "2006-01-02T15:04:05" string in the board's reference
// timezone with the offset stripped, so string order is time order. The key
// is both the record's identity and its activation time; there is no
// separate creation clock (CreatedAt == Key).
type MessageRecord struct {
	Key          string `json:"-"`
	Content      string `json:"message"`
	BackgroundID string `json:"backgroundId,omitempty"`
}

// ScheduledMessage is a record whose key is still in the future.
// ID, StartAt and CreatedAt all carry the record key.
type ScheduledMessage struct {
	ID           string `json:"id"`
	Message      string `json:"message"`
	BackgroundID string `json:"backgroundId"`
	StartAt      string `json:"startAt"`
	CreatedAt    string `json:"createdAt"`
}

// MessageState is the resolved view of the record set at a point in time.
// It is never persisted.
//
// ScheduledMessages is always non-nil so it serializes to [] and not null.
type MessageState struct {
	ActiveMessage      string             `json:"activeMessage"`
	ActiveBackgroundID string             `json:"activeBackgroundId"`
	UpdatedAt          string             `json:"updatedAt"`
	ScheduledMessages  []ScheduledMessage `json:"scheduledMessages"`
}

// Bounds is the text box on a background image, in source-image pixels.
type Bounds struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Background is one entry of the fixed presentation background catalog.
// Src is nil for the plain default background.
type Background struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Src       *string `json:"src"`
	TextColor string  `json:"textColor"`
	Bounds    Bounds  `json:"bounds"`
}
