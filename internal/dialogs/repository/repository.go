package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm_dialog_relay/internal/dialogs/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dialogColumns = `id, chat_id, deal_id, manager_id, funnel_id, current_state, history, pending_messages, pending_since, created_at, updated_at`

// Repository is the postgres Dialog Store.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, chatID string) (domain.Dialog, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dialogColumns+` FROM dialogs WHERE chat_id = $1`, chatID)
	d, err := scanDialog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Dialog{}, ErrDialogNotFound
	}
	return d, err
}

func (r *Repository) GetOrCreate(ctx context.Context, chatID string, links domain.Links) (domain.Dialog, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO dialogs (id, chat_id, deal_id, manager_id, funnel_id, current_state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chat_id) DO UPDATE SET
			deal_id = COALESCE(EXCLUDED.deal_id, dialogs.deal_id),
			manager_id = COALESCE(EXCLUDED.manager_id, dialogs.manager_id),
			funnel_id = COALESCE(EXCLUDED.funnel_id, dialogs.funnel_id),
			updated_at = now()
		RETURNING `+dialogColumns,
		uuid.New(), chatID, links.DealID, links.ManagerID, links.FunnelID, domain.StateIdle,
	)
	d, err := scanDialog(row)
	if err != nil {
		return domain.Dialog{}, fmt.Errorf("get or create dialog %s: %w", chatID, err)
	}
	return d, nil
}

func (r *Repository) AppendPending(ctx context.Context, chatID string, msg domain.PendingMessage) error {
	if msg.Role == "" {
		msg.Role = domain.RoleUser
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	payload, err := json.Marshal([]domain.PendingMessage{msg})
	if err != nil {
		return fmt.Errorf("marshal pending message: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO dialogs (id, chat_id, current_state, pending_messages, pending_since)
		VALUES ($1, $2, $3, $4::jsonb, now())
		ON CONFLICT (chat_id) DO UPDATE SET
			pending_messages = dialogs.pending_messages || EXCLUDED.pending_messages,
			pending_since = now(),
			updated_at = now()`,
		uuid.New(), chatID, domain.StateIdle, payload,
	)
	if err != nil {
		return fmt.Errorf("append pending message for %s: %w", chatID, err)
	}
	return nil
}

func (r *Repository) RestorePending(ctx context.Context, chatID string, msgs []domain.PendingMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal pending messages: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO dialogs (id, chat_id, current_state, pending_messages, pending_since)
		VALUES ($1, $2, $3, $4::jsonb, now())
		ON CONFLICT (chat_id) DO UPDATE SET
			pending_messages = EXCLUDED.pending_messages || dialogs.pending_messages,
			pending_since = COALESCE(dialogs.pending_since, now()),
			updated_at = now()`,
		uuid.New(), chatID, domain.StateIdle, payload,
	)
	if err != nil {
		return fmt.Errorf("restore pending messages for %s: %w", chatID, err)
	}
	return nil
}

func (r *Repository) DrainDue(ctx context.Context, grace time.Duration) ([]domain.Batch, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH due AS (
		SELECT id, pending_messages
		FROM dialogs
		WHERE pending_since IS NOT NULL
		  AND pending_since <= now() - make_interval(secs => $1)
		  AND current_state <> $2
		ORDER BY pending_since ASC
		FOR UPDATE SKIP LOCKED
	)
	UPDATE dialogs d
	SET pending_messages = '[]'::jsonb, pending_since = NULL, updated_at = now()
	FROM due
	WHERE d.id = due.id
	RETURNING d.id, d.chat_id, d.deal_id, d.manager_id, d.funnel_id, d.current_state, d.history, due.pending_messages, d.pending_since, d.created_at, d.updated_at`,
		grace.Seconds(), domain.StateEscalated,
	)
	if err != nil {
		return nil, fmt.Errorf("drain due dialogs: %w", err)
	}
	defer rows.Close()

	var batches []domain.Batch
	for rows.Next() {
		d, err := scanDialog(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, domain.Batch{Dialog: d, Messages: d.PendingMessages})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	for i := range batches {
		batches[i].Dialog.PendingMessages = nil
	}
	return batches, nil
}

func (r *Repository) Replace(ctx context.Context, chatID string, state string, history []domain.Entry) error {
	if history == nil {
		history = []domain.Entry{}
	}
	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE dialogs
		SET current_state = $2, history = $3::jsonb, updated_at = now()
		WHERE chat_id = $1 AND jsonb_array_length(history) <= $4`,
		chatID, state, payload, len(history),
	)
	if err != nil {
		return fmt.Errorf("replace dialog %s: %w", chatID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM dialogs WHERE chat_id = $1)`, chatID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrDialogNotFound
	}
	return ErrHistoryRegression
}

func (r *Repository) ResetState(ctx context.Context, chatID string) (domain.Dialog, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE dialogs
		SET current_state = $2,
			pending_since = CASE WHEN jsonb_array_length(pending_messages) > 0 THEN now() ELSE NULL END,
			updated_at = now()
		WHERE chat_id = $1
		RETURNING `+dialogColumns,
		chatID, domain.StateIdle,
	)
	d, err := scanDialog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Dialog{}, ErrDialogNotFound
	}
	return d, err
}

func scanDialog(row pgx.Row) (domain.Dialog, error) {
	var d domain.Dialog
	var historyRaw, pendingRaw []byte
	if err := row.Scan(
		&d.ID, &d.ChatID, &d.DealID, &d.ManagerID, &d.FunnelID, &d.CurrentState,
		&historyRaw, &pendingRaw, &d.PendingSince, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return domain.Dialog{}, err
	}
	if err := json.Unmarshal(historyRaw, &d.History); err != nil {
		return domain.Dialog{}, fmt.Errorf("decode history of %s: %w", d.ChatID, err)
	}
	if err := json.Unmarshal(pendingRaw, &d.PendingMessages); err != nil {
		return domain.Dialog{}, fmt.Errorf("decode pending messages of %s: %w", d.ChatID, err)
	}
	return d, nil
}

// Compile-time check.
var _ Store = (*Repository)(nil)
