// Package app assembles the dialogs module dependencies shared by the api and
// scheduler binaries.
package app

import (
	"context"
	"fmt"

	"crm_dialog_relay/internal/adapters"
	"crm_dialog_relay/internal/bitrix"
	"crm_dialog_relay/internal/coordination"
	"crm_dialog_relay/internal/dialogs"
	"crm_dialog_relay/internal/dialogs/repository"
	"crm_dialog_relay/internal/oracle"
	"crm_dialog_relay/internal/policy"
	"crm_dialog_relay/internal/wazzup"
	"crm_dialog_relay/platform/ai/openai"
	"crm_dialog_relay/platform/config"
	"crm_dialog_relay/platform/logger"

	"github.com/redis/go-redis/v9"
)

// DialogDeps builds the external collaborators of the dialogs module. A nil
// redis client selects the in-process lock and dedupe implementations, which
// are only correct when a single process serves the store.
func DialogDeps(ctx context.Context, cfg *config.Config, store repository.Store, rdb *redis.Client, log *logger.Logger) (dialogs.Deps, error) {
	llm, err := openai.NewModel(openai.Config{
		APIKey:   cfg.GetOpenAIAPIKey(),
		BaseURL:  cfg.GetOpenAIBaseURL(),
		Model:    cfg.GetOpenAIModel(),
		ProxyURL: cfg.GetOpenAIProxyURL(),
		Timeout:  cfg.GetOracleTimeout(),
	})
	if err != nil {
		return dialogs.Deps{}, fmt.Errorf("init oracle model: %w", err)
	}

	deps := dialogs.Deps{
		Store:  store,
		CRM:    adapters.NewBitrixCRM(bitrix.NewClient(cfg, log)),
		Sender: wazzup.NewClient(cfg, log),
		Oracle: oracle.New(llm),
		Policy: policy.NewCache(log, policySources(ctx, cfg, log)...),
	}

	if rdb != nil {
		deps.Locker = coordination.NewRedisLocker(rdb, coordination.LockTTL(cfg.GetDialogWorkTimeout()))
		deps.Deduper = coordination.NewRedisDeduper(rdb)
	} else {
		deps.Locker = coordination.NewMemoryLocker()
		deps.Deduper = coordination.NewMemoryDeduper()
	}

	log.Info("dialog dependencies initialized",
		"model", llm.Name(),
		"sharedCoordination", rdb != nil,
	)
	return deps, nil
}

func policySources(ctx context.Context, cfg config.PolicyConfig, log *logger.Logger) []policy.Source {
	var sources []policy.Source
	if path := cfg.GetPolicyFile(); path != "" {
		sources = append(sources, policy.NewFileSource(path))
	}

	docIDs := make([]string, 0, 2)
	for _, id := range []string{cfg.GetGoogleDocID(), cfg.GetKnowledgeBaseDocID()} {
		if id != "" {
			docIDs = append(docIDs, id)
		}
	}
	if len(docIDs) == 0 {
		return sources
	}

	svc, err := policy.NewGoogleDocsService(ctx, cfg.GetGoogleCredentialsFile())
	if err != nil {
		log.Warn("google docs policy source disabled", "error", err)
		return sources
	}
	for _, id := range docIDs {
		sources = append(sources, policy.NewGoogleDocsSource(svc, id))
	}
	return sources
}
