package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/media-policy-plane/internal/audit"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// WriteBatch — пакетная вставка журнала операторских действий.
// Плейсхолдеры строим динамически: одна команда на пачку любой длины.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	numFields := 8
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)
		vals = append(vals,
			e.ID, e.Actor, e.Action, e.RunID, e.PolicyID, e.Success, e.Detail, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO operator_audit (id, actor, action, run_id, policy_id, success, detail, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}
