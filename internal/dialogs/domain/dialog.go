// Package domain provides core business rules for the dialogs bounded context.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reserved dialog states. Every other state label is owned by the oracle.
const (
	StateIdle      = "idle"
	StateEscalated = "escalated"
)

// terminalStates are states where no further automated processing should occur.
var terminalStates = map[string]bool{
	StateEscalated: true,
}

// IsTerminal returns true if the dialog must not be processed by the worker.
func IsTerminal(state string) bool {
	return terminalStates[state]
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one committed turn of the conversation.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PendingMessage is an inbound chat message waiting for the next batch.
type PendingMessage struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	FileURL    string    `json:"file_url,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Text renders the message as the user content handed to the oracle.
// Attachments are appended as a separate line so the model sees them.
func (m PendingMessage) Text() string {
	content := strings.TrimSpace(m.Content)
	if m.FileURL == "" {
		return content
	}
	name := m.FileName
	if name == "" {
		name = "file"
	}
	attachment := "[attachment: " + name + " " + m.FileURL + "]"
	if content == "" {
		return attachment
	}
	return content + "\n" + attachment
}

// Dialog is the durable state of one chat conversation.
type Dialog struct {
	ID              uuid.UUID
	ChatID          string
	DealID          *int64
	ManagerID       *int64
	FunnelID        *string
	CurrentState    string
	History         []Entry
	PendingMessages []PendingMessage
	PendingSince    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (d Dialog) IsTerminal() bool {
	return IsTerminal(d.CurrentState)
}

// Links associates a dialog with CRM records. Nil fields leave the stored value untouched.
type Links struct {
	DealID    *int64
	ManagerID *int64
	FunnelID  *string
}

func (l Links) IsEmpty() bool {
	return l.DealID == nil && l.ManagerID == nil && l.FunnelID == nil
}

// Batch is a drained inbox together with the dialog snapshot taken at drain time.
type Batch struct {
	Dialog   Dialog
	Messages []PendingMessage
}

// MergeHistory returns history followed by each message as a user entry, in arrival order.
// The input slice is never modified.
func MergeHistory(history []Entry, messages []PendingMessage) []Entry {
	merged := make([]Entry, 0, len(history)+len(messages))
	merged = append(merged, history...)
	for _, msg := range messages {
		merged = append(merged, Entry{Role: RoleUser, Content: msg.Text()})
	}
	return merged
}
