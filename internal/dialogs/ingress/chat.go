// Package ingress accepts inbound chat messages and CRM stage changes.
package ingress

import (
	"context"
	"strings"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/platform/logger"
	"crm_dialog_relay/platform/phone"
)

// PendingAppender is the inbox side of the Dialog Store.
type PendingAppender interface {
	AppendPending(ctx context.Context, chatID string, msg domain.PendingMessage) error
}

// InboundMessage is a provider-neutral inbound chat message.
type InboundMessage struct {
	MessageID string
	ChatID    string
	Text      string
	FileURL   string
	FileName  string
	IsEcho    bool
	SentAt    time.Time
}

// ChatResult summarizes what happened to an inbound delivery.
type ChatResult struct {
	Accepted int
	Echoes   int
	Skipped  int
	Failed   int
}

// ChatService enqueues inbound messages for the debounce queue. It never
// talks to the oracle.
type ChatService struct {
	inbox  PendingAppender
	region string
	log    *logger.Logger
}

func NewChatService(inbox PendingAppender, region string, log *logger.Logger) *ChatService {
	return &ChatService{inbox: inbox, region: region, log: log}
}

// Receive appends every usable message to its dialog inbox. Individual
// failures are logged and counted; the caller always acknowledges.
func (s *ChatService) Receive(ctx context.Context, messages []InboundMessage) ChatResult {
	var result ChatResult
	for _, msg := range messages {
		if msg.IsEcho {
			result.Echoes++
			continue
		}

		chatID := phone.ChatID(msg.ChatID, s.region)
		text := strings.TrimSpace(msg.Text)
		if chatID == "" || (text == "" && msg.FileURL == "") {
			result.Skipped++
			continue
		}

		receivedAt := msg.SentAt
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}

		err := s.inbox.AppendPending(ctx, chatID, domain.PendingMessage{
			Role:       domain.RoleUser,
			Content:    text,
			FileURL:    msg.FileURL,
			FileName:   msg.FileName,
			MessageID:  msg.MessageID,
			ReceivedAt: receivedAt,
		})
		if err != nil {
			result.Failed++
			s.log.WithChatID(chatID).Error("ingress: append pending failed", "messageId", msg.MessageID, "error", err)
			continue
		}
		result.Accepted++
		s.log.WithChatID(chatID).Debug("ingress: message queued", "messageId", msg.MessageID)
	}
	return result
}
