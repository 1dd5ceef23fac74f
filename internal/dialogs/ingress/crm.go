package ingress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"
	"crm_dialog_relay/internal/dialogs/ports"
	"crm_dialog_relay/platform/apperr"
	"crm_dialog_relay/platform/logger"
	"crm_dialog_relay/platform/phone"
)

// Outcome statuses of a CRM event.
const (
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeNoPhone   = "no_phone"
	OutcomeFrozen    = "frozen"
	OutcomeProcessed = "processed"
)

// Outcome describes how a CRM event was handled.
type Outcome struct {
	Status   string   `json:"status"`
	Reason   string   `json:"reason,omitempty"`
	DealID   int64    `json:"dealId"`
	ChatID   string   `json:"chatId,omitempty"`
	Scenario Scenario `json:"scenario,omitempty"`
	State    string   `json:"state,omitempty"`
	Replied  bool     `json:"replied,omitempty"`
}

// DialogStore is what the CRM path needs from the Dialog Store.
type DialogStore interface {
	GetOrCreate(ctx context.Context, chatID string, links domain.Links) (domain.Dialog, error)
	Replace(ctx context.Context, chatID string, state string, history []domain.Entry) error
}

// ActionRunner executes decision side effects.
type ActionRunner interface {
	Execute(ctx context.Context, d domain.Dialog, decision domain.Decision) error
}

type CRMConfig struct {
	Routes        StageRoutes
	DedupeWindow  time.Duration
	OracleTimeout time.Duration
	// WorkTimeout bounds a turn from lock to commit. The turn runs detached
	// from the request so a dropped caller cannot stop it after delivery.
	WorkTimeout time.Duration
	PolicyTTL   time.Duration
	PhoneRegion string
}

// CRMService seeds or resumes a dialog when a deal reaches a trigger stage and
// lets the oracle speak first. It bypasses the debounce queue.
type CRMService struct {
	crm     ports.CRMReader
	store   DialogStore
	oracle  ports.Oracle
	policy  ports.PolicyProvider
	sender  ports.ChatSender
	actions ActionRunner
	locker  ports.Locker
	dedupe  ports.Deduper
	cfg     CRMConfig
	log     *logger.Logger
}

func NewCRMService(crm ports.CRMReader, store DialogStore, oracle ports.Oracle, policy ports.PolicyProvider, sender ports.ChatSender, actions ActionRunner, locker ports.Locker, dedupe ports.Deduper, cfg CRMConfig, log *logger.Logger) *CRMService {
	return &CRMService{
		crm:     crm,
		store:   store,
		oracle:  oracle,
		policy:  policy,
		sender:  sender,
		actions: actions,
		locker:  locker,
		dedupe:  dedupe,
		cfg:     cfg,
		log:     log,
	}
}

// HandleDealUpdate processes an ONCRMDEALUPDATE event for dealID. A failed
// event releases its dedupe key so the operator can retry it.
func (s *CRMService) HandleDealUpdate(ctx context.Context, dealID int64) (Outcome, error) {
	outcome, key, err := s.handleDealUpdate(ctx, dealID)
	if err != nil && key != "" {
		if ferr := s.dedupe.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			s.log.Warn("ingress: failed to release dedupe key", "dealId", dealID, "error", ferr)
		}
	}
	return outcome, err
}

func (s *CRMService) handleDealUpdate(ctx context.Context, dealID int64) (Outcome, string, error) {
	outcome := Outcome{DealID: dealID}
	log := s.log.With("dealId", dealID)

	deal, err := s.crm.GetDeal(ctx, dealID)
	if err != nil {
		return outcome, "", err
	}

	scenario, ok := s.cfg.Routes.Match(deal.CategoryID, deal.StageID)
	if !ok {
		outcome.Status = OutcomeIgnored
		outcome.Reason = fmt.Sprintf("category %s stage %s is not a trigger", deal.CategoryID, deal.StageID)
		return outcome, "", nil
	}
	outcome.Scenario = scenario

	key := dedupeKey(dealID, deal.StageID)
	first, err := s.dedupe.FirstSeen(ctx, key, s.cfg.DedupeWindow)
	if err != nil {
		log.Warn("ingress: dedupe unavailable, processing event", "error", err)
		first = true
	}
	if !first {
		outcome.Status = OutcomeDuplicate
		outcome.Reason = "event repeated within dedupe window"
		return outcome, "", nil
	}

	if deal.ContactID == nil {
		outcome.Status = OutcomeNoPhone
		outcome.Reason = "deal has no contact"
		return outcome, key, nil
	}
	contact, err := s.crm.GetContact(ctx, *deal.ContactID)
	if err != nil {
		return outcome, key, err
	}
	chatID := phone.ChatID(contact.Phone, s.cfg.PhoneRegion)
	if chatID == "" {
		outcome.Status = OutcomeNoPhone
		outcome.Reason = "contact has no phone"
		log.Info("ingress: contact without phone, skipping", "contactId", contact.ID)
		return outcome, key, nil
	}
	outcome.ChatID = chatID

	var manager *ports.User
	if deal.AssignedByID != nil {
		u, err := s.crm.GetUser(ctx, *deal.AssignedByID)
		if err != nil {
			log.Warn("ingress: manager lookup failed", "managerId", *deal.AssignedByID, "error", err)
		} else {
			manager = &u
		}
	}

	activity, err := s.crm.GetLatestActivity(ctx, dealID)
	if err != nil {
		log.Warn("ingress: activity lookup failed", "error", err)
		activity = nil
	}

	instruction := BuildInstruction(TriggerContext{
		Scenario:    scenario,
		Deal:        deal,
		ClientName:  clientName(contact),
		ManagerName: managerName(manager),
		Activity:    activity,
	})

	outcome, err = s.converse(ctx, outcome, deal, chatID, instruction)
	return outcome, key, err
}

func (s *CRMService) converse(ctx context.Context, outcome Outcome, deal ports.Deal, chatID, instruction string) (Outcome, error) {
	log := s.log.WithChatID(chatID).With("dealId", deal.ID)

	if s.cfg.WorkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WorkTimeout)
		defer cancel()
	}

	unlock, err := s.locker.Lock(ctx, chatID)
	if err != nil {
		return outcome, apperr.Unavailable("dialog lock unavailable", err)
	}
	defer unlock()

	funnelID := deal.CategoryID
	dealID := deal.ID
	d, err := s.store.GetOrCreate(ctx, chatID, domain.Links{
		DealID:    &dealID,
		ManagerID: deal.AssignedByID,
		FunnelID:  &funnelID,
	})
	if err != nil {
		return outcome, err
	}

	if d.IsTerminal() {
		outcome.Status = OutcomeFrozen
		outcome.State = d.CurrentState
		outcome.Reason = "dialog is escalated"
		log.Info("ingress: dialog frozen, CRM event not forwarded to oracle")
		return outcome, nil
	}

	history := append(append([]domain.Entry(nil), d.History...), domain.Entry{Role: domain.RoleSystem, Content: instruction})
	policyText := s.policy.Get(ctx, s.cfg.PolicyTTL)

	oracleCtx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	decision, err := s.oracle.Decide(oracleCtx, history, policyText)
	cancel()
	if err != nil {
		log.Error("ingress: oracle failed for CRM event", "error", err)
		return outcome, apperr.Unavailable("oracle failed", err)
	}

	if decision.ReplyText != "" {
		if err := s.sender.Send(ctx, chatID, decision.ReplyText); err != nil {
			log.Error("ingress: reply delivery failed", "error", err)
			return outcome, apperr.Unavailable("reply delivery failed", err)
		}
		history = append(history, domain.Entry{Role: domain.RoleAssistant, Content: decision.ReplyText})
		outcome.Replied = true
	}

	if err := s.actions.Execute(ctx, d, decision); err != nil {
		log.Warn("ingress: action finished with errors", "action", decision.Action, "error", err)
	}

	if err := s.store.Replace(ctx, chatID, decision.NewState, history); err != nil {
		return outcome, fmt.Errorf("commit dialog: %w", err)
	}

	outcome.Status = OutcomeProcessed
	outcome.State = decision.NewState
	log.Info("ingress: CRM event processed", "scenario", outcome.Scenario, "state", decision.NewState)
	return outcome, nil
}

func dedupeKey(dealID int64, stageID string) string {
	return strconv.FormatInt(dealID, 10) + ":" + stageID
}
