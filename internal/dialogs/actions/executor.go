// Package actions maps oracle decisions to CRM side effects.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/internal/dialogs/ports"
	"crm_dialog_relay/platform/logger"
	"crm_dialog_relay/platform/sanitize"
)

const (
	defaultTaskTitle     = "Связаться с клиентом"
	defaultDeadlineHours = 24
	urgentPrefix         = "СРОЧНО: требуется участие менеджера."
	maxTaskTitleRunes    = 255
)

// Executor performs the CRM calls behind a decision. Failures are logged and
// returned joined; they never block the state commit.
type Executor struct {
	crm ports.CRMWriter
	log *logger.Logger
	now func() time.Time
}

func NewExecutor(crm ports.CRMWriter, log *logger.Logger) *Executor {
	return &Executor{crm: crm, log: log, now: time.Now}
}

// Execute runs decision.Action for dialog d.
func (e *Executor) Execute(ctx context.Context, d domain.Dialog, decision domain.Decision) error {
	log := e.log.WithChatID(d.ChatID)

	switch decision.Action {
	case domain.ActionNone:
		return nil
	case domain.ActionLogComment, domain.ActionCreateTaskAndLog, domain.ActionEscalateToManager:
	default:
		log.Warn("actions: unknown action ignored", "action", decision.Action)
		return nil
	}

	if d.DealID == nil || d.ManagerID == nil {
		log.Warn("actions: dialog not linked to a deal and manager, skipping", "action", decision.Action)
		return nil
	}
	dealID, managerID := *d.DealID, *d.ManagerID

	var errs []error
	switch decision.Action {
	case domain.ActionLogComment:
		text := sanitize.Text(decision.Param("comment_text"))
		if text == "" {
			log.Warn("actions: LOG_COMMENT without comment_text, skipping")
			return nil
		}
		errs = append(errs, e.comment(ctx, log, dealID, text))

	case domain.ActionCreateTaskAndLog:
		title := sanitize.Truncate(sanitize.Line(decision.Param("task_title")), maxTaskTitleRunes)
		if title == "" {
			title = defaultTaskTitle
		}
		description := sanitize.Text(decision.Param("task_description"))
		hours := decision.IntParam("deadline_hours", defaultDeadlineHours)
		if hours <= 0 {
			hours = defaultDeadlineHours
		}

		taskID, err := e.crm.CreateTask(ctx, ports.TaskParams{
			DealID:        dealID,
			ResponsibleID: managerID,
			Title:         title,
			Description:   description,
			Deadline:      e.now().Add(time.Duration(hours) * time.Hour),
		})
		if err != nil {
			log.Error("actions: create task failed", "dealId", dealID, "error", err)
			errs = append(errs, fmt.Errorf("create task: %w", err))
		} else {
			log.Info("actions: task created", "dealId", dealID, "taskId", taskID)
		}

		text := sanitize.Text(decision.Param("comment_text"))
		if text == "" {
			text = "Создана задача: " + title
		}
		errs = append(errs, e.comment(ctx, log, dealID, text))

	case domain.ActionEscalateToManager:
		reason := sanitize.Line(decision.Param("reason"))
		errs = append(errs, e.escalate(ctx, log, d, dealID, managerID, reason))
	}

	return errors.Join(errs...)
}

// NotifyEscalation raises a best-effort notice that the dialog was frozen
// without an oracle decision.
func (e *Executor) NotifyEscalation(ctx context.Context, d domain.Dialog, reason string) error {
	log := e.log.WithChatID(d.ChatID)
	if d.DealID == nil || d.ManagerID == nil {
		log.Warn("actions: escalation notice skipped, dialog not linked", "reason", reason)
		return nil
	}
	return e.escalate(ctx, log, d, *d.DealID, *d.ManagerID, reason)
}

func (e *Executor) escalate(ctx context.Context, log *logger.Logger, d domain.Dialog, dealID, managerID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "причина не указана"
	}

	var errs []error
	errs = append(errs, e.comment(ctx, log, dealID, urgentPrefix+" Причина: "+reason))

	message := fmt.Sprintf("Диалог с клиентом %s требует вашего участия (сделка %d). Причина: %s", d.ChatID, dealID, reason)
	if err := e.crm.NotifyUser(ctx, managerID, message); err != nil {
		log.Error("actions: manager notification failed", "managerId", managerID, "error", err)
		errs = append(errs, fmt.Errorf("notify manager: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Executor) comment(ctx context.Context, log *logger.Logger, dealID int64, text string) error {
	if err := e.crm.AddComment(ctx, dealID, text); err != nil {
		log.Error("actions: timeline comment failed", "dealId", dealID, "error", err)
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}
