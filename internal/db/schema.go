package db

import (
	"context"
	"fmt"
)

// Схема создается идемпотентно при старте сервиса.
// Частичный уникальный индекс payments_gateway_payment_uq — последний рубеж
// от двойной записи одной транзакции шлюза: на него опирается
// ON CONFLICT (gateway_id, gateway_payment_id) WHERE gateway_payment_id <> ''
// в репозитории платежей. Ожидающие платежи чекаута с пустым
// gateway_payment_id под индекс не попадают.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memberships (
		id UUID PRIMARY KEY,
		customer_id UUID NOT NULL,
		plan_id TEXT NOT NULL,
		plan_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		gateway_id TEXT NOT NULL,
		gateway_customer_id TEXT NOT NULL DEFAULT '',
		gateway_subscription_id TEXT NOT NULL DEFAULT '',
		amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		initial_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		duration INT NOT NULL DEFAULT 1,
		duration_unit TEXT NOT NULL DEFAULT 'month',
		times_billed INT NOT NULL DEFAULT 0,
		billing_cycles INT NOT NULL DEFAULT 0,
		auto_renew BOOLEAN NOT NULL DEFAULT FALSE,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		date_expiration TIMESTAMPTZ,
		date_renewed TIMESTAMPTZ,
		date_cancellation TIMESTAMPTZ,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		meta JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS memberships_gateway_subscription_idx
		ON memberships (gateway_id, gateway_subscription_id)
		WHERE gateway_subscription_id <> ''`,

	`CREATE INDEX IF NOT EXISTS memberships_customer_gateway_idx
		ON memberships (customer_id, gateway_id)`,

	`CREATE INDEX IF NOT EXISTS memberships_date_expiration_idx
		ON memberships (date_expiration)
		WHERE date_expiration IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		membership_id UUID NOT NULL,
		customer_id UUID NOT NULL,
		status TEXT NOT NULL,
		gateway_id TEXT NOT NULL,
		gateway_payment_id TEXT NOT NULL DEFAULT '',
		total NUMERIC(12,2) NOT NULL DEFAULT 0,
		subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
		tax_total NUMERIC(12,2) NOT NULL DEFAULT 0,
		discount_total NUMERIC(12,2) NOT NULL DEFAULT 0,
		refunded NUMERIC(12,2) NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		line_items JSONB,
		meta JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS payments_gateway_payment_uq
		ON payments (gateway_id, gateway_payment_id)
		WHERE gateway_payment_id <> ''`,

	`CREATE INDEX IF NOT EXISTS payments_membership_status_idx
		ON payments (membership_id, status)`,
}

// Bootstrap приводит схему базы к актуальному виду
func (dc *DBClient) Bootstrap(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := dc.db.ExecContext(ctx, stmt); err != nil {
			dc.log.Errorw("Failed to apply schema statement", "error", err)
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	dc.log.Infow("Database schema is up to date")
	return nil
}
