// Package dialogs provides the dialog relay bounded context module.
// This file defines the module that wires the store, ingress services, the
// dispatch processor and the HTTP handlers.
package dialogs

import (
	"crm_dialog_relay/internal/dialogs/actions"
	"crm_dialog_relay/internal/dialogs/dispatch"
	"crm_dialog_relay/internal/dialogs/handler"
	"crm_dialog_relay/internal/dialogs/ingress"
	"crm_dialog_relay/internal/dialogs/ports"
	"crm_dialog_relay/internal/dialogs/repository"
	apphttp "crm_dialog_relay/internal/http"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"
	"crm_dialog_relay/platform/validator"
)

// Config combines the config interfaces the dialogs module reads.
type Config interface {
	config.BitrixConfig
	config.OracleConfig
	config.PolicyConfig
	config.DebounceConfig
	config.TriggerConfig
	config.PhoneConfig
}

// Deps are the external collaborators of the module.
type Deps struct {
	Store   repository.Store
	CRM     ports.CRM
	Sender  ports.ChatSender
	Oracle  ports.Oracle
	Policy  ports.PolicyProvider
	Locker  ports.Locker
	Deduper ports.Deduper
}

// Module is the dialogs bounded context module implementing http.Module.
type Module struct {
	store     repository.Store
	handler   *handler.Handler
	processor *dispatch.Processor
	cfg       Config
	log       *logger.Logger
}

// NewModule creates and initializes the dialogs module with all its dependencies.
func NewModule(deps Deps, cfg Config, val *validator.Validator, log *logger.Logger) *Module {
	executor := actions.NewExecutor(deps.CRM, log)

	processor := dispatch.NewProcessor(deps.Store, deps.Oracle, deps.Policy, deps.Sender, executor, deps.Locker,
		dispatch.ProcessorConfig{
			OracleTimeout: cfg.GetOracleTimeout(),
			PolicyTTL:     cfg.GetPolicyCacheTTL(),
		}, log)

	chatSvc := ingress.NewChatService(deps.Store, cfg.GetPhoneDefaultRegion(), log)
	crmSvc := ingress.NewCRMService(deps.CRM, deps.Store, deps.Oracle, deps.Policy, deps.Sender, executor,
		deps.Locker, deps.Deduper, ingress.CRMConfig{
			Routes: ingress.StageRoutes{
				FunnelID:     cfg.GetTargetFunnelID(),
				WelcomeStage: cfg.GetWelcomeStageID(),
				TouchToday:   cfg.GetTouchTodayStageID(),
				NewLot:       cfg.GetNewLotStageID(),
			},
			DedupeWindow:  cfg.GetCRMEventDedupeWindow(),
			OracleTimeout: cfg.GetOracleTimeout(),
			WorkTimeout:   cfg.GetDialogWorkTimeout(),
			PolicyTTL:     cfg.GetPolicyCacheTTL(),
			PhoneRegion:   cfg.GetPhoneDefaultRegion(),
		}, log)

	h := handler.New(chatSvc, crmSvc, deps.Store, val, cfg.GetBitrixApplicationToken(), log)

	return &Module{
		store:     deps.Store,
		handler:   h,
		processor: processor,
		cfg:       cfg,
		log:       log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "dialogs"
}

// Processor returns the batch processor used by the in-process poller and the queue worker.
func (m *Module) Processor() *dispatch.Processor {
	return m.processor
}

// NewPoller builds a poller over the module's store that hands batches to next.
// Pass Processor() to process in place, or a queue client to hand batches off.
func (m *Module) NewPoller(next dispatch.BatchHandler) *dispatch.Poller {
	return dispatch.NewPoller(m.store, next, dispatch.PollerConfig{
		GracePeriod:  m.cfg.GetGracePeriod(),
		PollInterval: m.cfg.GetPollInterval(),
		DrainTimeout: m.cfg.GetDialogWorkTimeout(),
	}, m.log)
}

// RegisterRoutes mounts the webhook and admin routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Provider callbacks (rate limited, no auth beyond the optional Bitrix token)
	ctx.Webhooks.POST("/wazzup", m.handler.HandleWazzupWebhook)
	ctx.Webhooks.POST("/bitrix", m.handler.HandleBitrixWebhook)

	if ctx.Admin == nil {
		return
	}
	admin := ctx.Admin.Group("/dialogs")
	admin.GET("/:chatId", m.handler.HandleGetDialog)
	admin.POST("/:chatId/reset", m.handler.HandleResetDialog)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
