// Package dispatch turns drained pending inboxes into oracle decisions and
// commits the resulting dialog state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/internal/dialogs/ports"
	"crm_dialog_relay/internal/dialogs/repository"
	"crm_dialog_relay/platform/logger"
)

// DialogStore is what the processor needs from the Dialog Store.
type DialogStore interface {
	repository.DialogReader
	RestorePending(ctx context.Context, chatID string, msgs []domain.PendingMessage) error
	Replace(ctx context.Context, chatID string, state string, history []domain.Entry) error
}

// ActionRunner executes decision side effects and escalation notices.
type ActionRunner interface {
	Execute(ctx context.Context, d domain.Dialog, decision domain.Decision) error
	NotifyEscalation(ctx context.Context, d domain.Dialog, reason string) error
}

type ProcessorConfig struct {
	OracleTimeout time.Duration
	PolicyTTL     time.Duration
}

// Processor handles one drained batch at a time.
type Processor struct {
	store   DialogStore
	oracle  ports.Oracle
	policy  ports.PolicyProvider
	sender  ports.ChatSender
	actions ActionRunner
	locker  ports.Locker
	cfg     ProcessorConfig
	log     *logger.Logger
}

func NewProcessor(store DialogStore, oracle ports.Oracle, policy ports.PolicyProvider, sender ports.ChatSender, actions ActionRunner, locker ports.Locker, cfg ProcessorConfig, log *logger.Logger) *Processor {
	return &Processor{
		store:   store,
		oracle:  oracle,
		policy:  policy,
		sender:  sender,
		actions: actions,
		locker:  locker,
		cfg:     cfg,
		log:     log,
	}
}

// Process merges the batch into the dialog, asks the oracle once and commits
// exactly one state write. Messages are put back into the inbox only when the
// dialog could not be locked or is frozen.
func (p *Processor) Process(ctx context.Context, batch domain.Batch) error {
	chatID := batch.Dialog.ChatID
	log := p.log.WithChatID(chatID)

	unlock, err := p.locker.Lock(ctx, chatID)
	if err != nil {
		p.restore(ctx, log, chatID, batch.Messages)
		return fmt.Errorf("lock dialog %s: %w", chatID, err)
	}
	defer unlock()

	current, err := p.store.Get(ctx, chatID)
	if err != nil {
		p.restore(ctx, log, chatID, batch.Messages)
		return fmt.Errorf("load dialog %s: %w", chatID, err)
	}

	if current.IsTerminal() {
		log.Info("dispatch: dialog is frozen, skipping batch", "state", current.CurrentState, "messages", len(batch.Messages))
		p.restore(ctx, log, chatID, batch.Messages)
		return nil
	}

	merged := domain.MergeHistory(current.History, batch.Messages)
	policyText := p.policy.Get(ctx, p.cfg.PolicyTTL)

	oracleCtx, cancel := context.WithTimeout(ctx, p.cfg.OracleTimeout)
	decision, err := p.oracle.Decide(oracleCtx, merged, policyText)
	cancel()
	if err != nil {
		return p.escalate(ctx, log, current, merged, "oracle failure: "+err.Error())
	}

	history := merged
	if decision.ReplyText != "" {
		if err := p.sender.Send(ctx, chatID, decision.ReplyText); err != nil {
			return p.escalate(ctx, log, current, merged, "reply delivery failed: "+err.Error())
		}
		history = append(history, domain.Entry{Role: domain.RoleAssistant, Content: decision.ReplyText})
	}

	if err := p.actions.Execute(ctx, current, decision); err != nil {
		log.Warn("dispatch: action finished with errors", "action", decision.Action, "error", err)
	}

	if err := p.commit(ctx, log, chatID, decision.NewState, history); err != nil {
		return err
	}
	log.Info("dispatch: batch processed",
		"messages", len(batch.Messages),
		"state", decision.NewState,
		"action", decision.Action,
		"replied", decision.ReplyText != "",
	)
	return nil
}

func (p *Processor) escalate(ctx context.Context, log *logger.Logger, d domain.Dialog, merged []domain.Entry, reason string) error {
	log.Error("dispatch: escalating dialog", "reason", reason)

	if err := p.commit(ctx, log, d.ChatID, domain.StateEscalated, merged); err != nil {
		return err
	}
	if err := p.actions.NotifyEscalation(ctx, d, reason); err != nil {
		log.Warn("dispatch: escalation notice failed", "error", err)
	}
	return nil
}

func (p *Processor) commit(ctx context.Context, log *logger.Logger, chatID, state string, history []domain.Entry) error {
	err := p.store.Replace(ctx, chatID, state, history)
	if errors.Is(err, repository.ErrDialogNotFound) {
		log.Warn("dispatch: dialog disappeared before commit")
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit dialog %s: %w", chatID, err)
	}
	return nil
}

func (p *Processor) restore(ctx context.Context, log *logger.Logger, chatID string, messages []domain.PendingMessage) {
	if err := p.store.RestorePending(ctx, chatID, messages); err != nil {
		log.Error("dispatch: failed to restore pending messages", "messages", len(messages), "error", err)
	}
}
