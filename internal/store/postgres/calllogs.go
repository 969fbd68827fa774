package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driveline-ai/driveline/internal/domain"
)

// CallLogRepo persists durable call records. Obtain one via [Store.CallLogs].
type CallLogRepo struct {
	pool *pgxpool.Pool
}

// Insert writes the record of one completed call. call_sid is unique; a
// retried teardown upserts instead of failing.
func (r *CallLogRepo) Insert(ctx context.Context, l *domain.CallLog) error {
	const q = `
		INSERT INTO call_logs
		    (call_sid, customer_id, direction, caller_phone, intent,
		     transcript, started_at, ended_at, outcome,
		     prompt_tokens, completion_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (call_sid) DO UPDATE
		SET intent = EXCLUDED.intent, transcript = EXCLUDED.transcript,
		    ended_at = EXCLUDED.ended_at, outcome = EXCLUDED.outcome,
		    prompt_tokens = EXCLUDED.prompt_tokens,
		    completion_tokens = EXCLUDED.completion_tokens
		RETURNING id`

	err := r.pool.QueryRow(ctx, q,
		l.CallSID, l.CustomerID, l.Direction, l.CallerPhone, l.Intent,
		l.Transcript, l.StartedAt.UTC(), l.EndedAt.UTC(), l.Outcome,
		l.PromptTokens, l.CompletionTokens,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("call logs: insert: %w", err)
	}
	return nil
}

// GetBySID looks up the log of one call.
func (r *CallLogRepo) GetBySID(ctx context.Context, callSID string) (*domain.CallLog, error) {
	const q = `
		SELECT id, call_sid, customer_id, direction, caller_phone, intent,
		       transcript, started_at, ended_at, outcome,
		       prompt_tokens, completion_tokens
		FROM   call_logs
		WHERE  call_sid = $1`

	var l domain.CallLog
	err := r.pool.QueryRow(ctx, q, callSID).Scan(
		&l.ID, &l.CallSID, &l.CustomerID, &l.Direction, &l.CallerPhone,
		&l.Intent, &l.Transcript, &l.StartedAt, &l.EndedAt, &l.Outcome,
		&l.PromptTokens, &l.CompletionTokens,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("call logs: get by sid: %w", err)
	}
	return &l, nil
}

// ListRecentByPhone returns the caller's latest call records, newest first.
func (r *CallLogRepo) ListRecentByPhone(ctx context.Context, phone string, limit int) ([]domain.CallLog, error) {
	const q = `
		SELECT id, call_sid, customer_id, direction, caller_phone, intent,
		       transcript, started_at, ended_at, outcome,
		       prompt_tokens, completion_tokens
		FROM   call_logs
		WHERE  caller_phone = $1
		ORDER  BY started_at DESC
		LIMIT  $2`

	rows, err := r.pool.Query(ctx, q, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("call logs: list recent: %w", err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CallLog, error) {
		var l domain.CallLog
		err := row.Scan(
			&l.ID, &l.CallSID, &l.CustomerID, &l.Direction, &l.CallerPhone,
			&l.Intent, &l.Transcript, &l.StartedAt, &l.EndedAt, &l.Outcome,
			&l.PromptTokens, &l.CompletionTokens,
		)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("call logs: scan rows: %w", err)
	}
	return logs, nil
}
