package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/internal/dialogs/ingress"
	"crm_dialog_relay/internal/dialogs/repository"
	"crm_dialog_relay/internal/dialogs/transport"
	"crm_dialog_relay/platform/apperr"
	"crm_dialog_relay/platform/httpkit"
	"crm_dialog_relay/platform/logger"
	"crm_dialog_relay/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	eventDealUpdate = "ONCRMDEALUPDATE"

	msgInvalidRequest = "invalid request body"
	msgInvalidChatID  = "invalid chat id"
	msgDialogNotFound = "dialog not found"
)

// ChatReceiver accepts inbound chat messages.
type ChatReceiver interface {
	Receive(ctx context.Context, messages []ingress.InboundMessage) ingress.ChatResult
}

// DealEventHandler reacts to CRM deal updates.
type DealEventHandler interface {
	HandleDealUpdate(ctx context.Context, dealID int64) (ingress.Outcome, error)
}

// DialogAdmin is the store surface used by the admin endpoints.
type DialogAdmin interface {
	Get(ctx context.Context, chatID string) (domain.Dialog, error)
	ResetState(ctx context.Context, chatID string) (domain.Dialog, error)
}

// Handler serves the chat and CRM webhooks and the dialog admin API.
type Handler struct {
	chat     ChatReceiver
	crm      DealEventHandler
	dialogs  DialogAdmin
	val      *validator.Validator
	appToken string
	log      *logger.Logger
}

// New creates a dialogs handler. An empty appToken disables the Bitrix
// application token check.
func New(chat ChatReceiver, crm DealEventHandler, dialogs DialogAdmin, val *validator.Validator, appToken string, log *logger.Logger) *Handler {
	return &Handler{chat: chat, crm: crm, dialogs: dialogs, val: val, appToken: appToken, log: log}
}

// HandleWazzupWebhook queues inbound chat messages.
// POST /webhook/wazzup
// Always acknowledges with 200 so the provider does not retry or disable the hook.
func (h *Handler) HandleWazzupWebhook(c *gin.Context) {
	log := h.log.WithContext(c.Request.Context())

	var payload transport.WazzupWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warn("wazzup webhook: undecodable body", "error", err)
		c.JSON(http.StatusOK, transport.ChatAck{Status: "ignored"})
		return
	}
	if payload.Test && len(payload.Messages) == 0 {
		c.JSON(http.StatusOK, transport.ChatAck{Status: "ok"})
		return
	}

	inbound := make([]ingress.InboundMessage, 0, len(payload.Messages))
	invalid := 0
	for _, msg := range payload.Messages {
		if err := h.val.Struct(msg); err != nil {
			invalid++
			log.Warn("wazzup webhook: invalid message", "messageId", msg.MessageID, "error", err)
			continue
		}
		inbound = append(inbound, ingress.InboundMessage{
			MessageID: msg.MessageID,
			ChatID:    msg.ChatID,
			Text:      msg.Text,
			FileURL:   msg.ContentURI,
			FileName:  msg.FileName,
			IsEcho:    msg.IsEcho,
			SentAt:    msg.SentAt(),
		})
	}

	result := h.chat.Receive(c.Request.Context(), inbound)
	c.JSON(http.StatusOK, transport.ChatAck{
		Status:   "ok",
		Accepted: result.Accepted,
		Echoes:   result.Echoes,
		Skipped:  result.Skipped + invalid,
		Failed:   result.Failed,
	})
}

// HandleBitrixWebhook processes a Bitrix24 outbound webhook.
// POST /webhook/bitrix
// Processing failures are reported synchronously with a 502.
func (h *Handler) HandleBitrixWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	ev, err := transport.ParseBitrixEvent(c.Request.PostForm)
	if httpkit.HandleError(c, err) {
		return
	}

	if h.appToken != "" && subtle.ConstantTimeCompare([]byte(ev.ApplicationToken), []byte(h.appToken)) != 1 {
		httpkit.Error(c, http.StatusUnauthorized, "invalid application token", nil)
		return
	}

	if ev.Event != eventDealUpdate {
		c.JSON(http.StatusOK, ingress.Outcome{Status: ingress.OutcomeIgnored, Reason: "event " + ev.Event + " is not handled"})
		return
	}
	if ev.DealID == 0 {
		httpkit.HandleError(c, apperr.BadRequest("missing deal id"))
		return
	}

	outcome, err := h.crm.HandleDealUpdate(c.Request.Context(), ev.DealID)
	if err != nil {
		h.log.WithContext(c.Request.Context()).Error("bitrix webhook: deal update failed", "dealId", ev.DealID, "error", err)
		if apperr.Is(err, apperr.KindNotFound) {
			httpkit.HandleError(c, err)
			return
		}
		httpkit.Error(c, http.StatusBadGateway, "deal update failed", err.Error())
		return
	}

	httpkit.OK(c, outcome)
}

// HandleGetDialog returns a dialog for inspection.
// GET /api/v1/dialogs/:chatId
func (h *Handler) HandleGetDialog(c *gin.Context) {
	chatID, ok := h.bindChatID(c)
	if !ok {
		return
	}

	d, err := h.dialogs.Get(c.Request.Context(), chatID)
	if h.handleStoreError(c, err) {
		return
	}
	httpkit.OK(c, toDialogResponse(d))
}

// HandleResetDialog moves a dialog back to idle so a human can hand it back
// to the bot. Messages accumulated while frozen are replayed after the grace period.
// POST /api/v1/dialogs/:chatId/reset
func (h *Handler) HandleResetDialog(c *gin.Context) {
	chatID, ok := h.bindChatID(c)
	if !ok {
		return
	}

	d, err := h.dialogs.ResetState(c.Request.Context(), chatID)
	if h.handleStoreError(c, err) {
		return
	}
	h.log.WithChatID(chatID).Info("dialog reset by operator", "pending", len(d.PendingMessages))
	httpkit.OK(c, toDialogResponse(d))
}

func (h *Handler) bindChatID(c *gin.Context) (string, bool) {
	var param transport.ChatIDParam
	if err := c.ShouldBindUri(&param); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidChatID, nil)
		return "", false
	}
	if err := h.val.Struct(param); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidChatID, err.Error())
		return "", false
	}
	return param.ChatID, true
}

func (h *Handler) handleStoreError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, repository.ErrDialogNotFound) {
		httpkit.Error(c, http.StatusNotFound, msgDialogNotFound, nil)
		return true
	}
	h.log.DatabaseError("dialog admin", err)
	return httpkit.HandleError(c, err)
}

func toDialogResponse(d domain.Dialog) transport.DialogResponse {
	history := make([]transport.HistoryEntry, len(d.History))
	for i, e := range d.History {
		history[i] = transport.HistoryEntry{Role: string(e.Role), Content: e.Content}
	}
	pending := make([]transport.PendingMessage, len(d.PendingMessages))
	for i, m := range d.PendingMessages {
		pending[i] = transport.PendingMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			FileURL:    m.FileURL,
			FileName:   m.FileName,
			MessageID:  m.MessageID,
			ReceivedAt: m.ReceivedAt,
		}
	}
	return transport.DialogResponse{
		ID:              d.ID,
		ChatID:          d.ChatID,
		DealID:          d.DealID,
		ManagerID:       d.ManagerID,
		FunnelID:        d.FunnelID,
		CurrentState:    d.CurrentState,
		History:         history,
		PendingMessages: pending,
		PendingSince:    d.PendingSince,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
