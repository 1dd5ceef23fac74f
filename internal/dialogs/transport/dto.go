package transport

import (
	"time"

	"github.com/google/uuid"
)

// WazzupWebhook is the JSON body Wazzup posts to the chat webhook. A body with
// Test set and no messages is the connectivity ping sent on subscription.
type WazzupWebhook struct {
	Test     bool             `json:"test"`
	Messages []WazzupMessage  `json:"messages"`
	Statuses []map[string]any `json:"statuses,omitempty"`
}

// WazzupMessage is a single inbound or echoed chat message.
type WazzupMessage struct {
	MessageID  string `json:"messageId"`
	ChannelID  string `json:"channelId"`
	ChatType   string `json:"chatType"`
	ChatID     string `json:"chatId" validate:"required,max=64"`
	DateTime   string `json:"dateTime"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Text       string `json:"text" validate:"max=10000"`
	ContentURI string `json:"contentUri"`
	FileName   string `json:"fileName,omitempty"`
	IsEcho     bool   `json:"isEcho"`
}

// SentAt parses DateTime, returning the zero time when it is absent or malformed.
func (m WazzupMessage) SentAt() time.Time {
	if m.DateTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, m.DateTime)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ChatAck is returned to Wazzup for every delivery.
type ChatAck struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
	Echoes   int    `json:"echoes,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
	Failed   int    `json:"failed,omitempty"`
}

// BitrixEvent is the decoded outbound-webhook form posted by Bitrix24.
type BitrixEvent struct {
	Event            string
	DealID           int64
	ApplicationToken string
}

// DialogResponse is the admin view of a dialog.
type DialogResponse struct {
	ID              uuid.UUID        `json:"id"`
	ChatID          string           `json:"chatId"`
	DealID          *int64           `json:"dealId,omitempty"`
	ManagerID       *int64           `json:"managerId,omitempty"`
	FunnelID        *string          `json:"funnelId,omitempty"`
	CurrentState    string           `json:"currentState"`
	History         []HistoryEntry   `json:"history"`
	PendingMessages []PendingMessage `json:"pendingMessages"`
	PendingSince    *time.Time       `json:"pendingSince,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type PendingMessage struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	FileURL    string    `json:"fileUrl,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	MessageID  string    `json:"messageId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ChatIDParam binds the :chatId path parameter of admin routes.
type ChatIDParam struct {
	ChatID string `uri:"chatId" validate:"required,max=64"`
}
