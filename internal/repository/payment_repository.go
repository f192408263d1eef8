package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PaymentRepository интерфейс для работы с платежами
type PaymentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayID, gatewayPaymentID string) (*domain.Payment, error)
	GetPendingByMembershipID(ctx context.Context, membershipID uuid.UUID) (*domain.Payment, error)
	Create(ctx context.Context, payment *domain.Payment) error
	Update(ctx context.Context, payment *domain.Payment) error
}

// paymentRow строка таблицы payments; позиции и мета хранятся как JSONB
type paymentRow struct {
	domain.Payment
	LineItemsJSON []byte `db:"line_items"`
	MetaJSON      []byte `db:"meta"`
}

func (r *paymentRow) toDomain() (*domain.Payment, error) {
	p := r.Payment
	if len(r.LineItemsJSON) > 0 {
		if err := json.Unmarshal(r.LineItemsJSON, &p.LineItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment line items: %w", err)
		}
	}
	if len(r.MetaJSON) > 0 {
		if err := json.Unmarshal(r.MetaJSON, &p.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment meta: %w", err)
		}
	}
	return &p, nil
}

// PostgresPaymentRepository реализация репозитория платежей в PostgreSQL
type PostgresPaymentRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresPaymentRepository создает новый репозиторий платежей
func NewPostgresPaymentRepository(db *sqlx.DB, log *logger.Logger) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db, log: log}
}

const paymentColumns = `id, membership_id, customer_id, status, gateway_id, gateway_payment_id,
	total, subtotal, tax_total, discount_total, refunded, currency, transaction_type,
	line_items, meta, created_at, updated_at`

// GetByID возвращает платеж по ID
func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var row paymentRow
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		r.log.Errorw("Failed to get payment", "error", err, "paymentID", id)
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return row.toDomain()
}

// GetByGatewayPaymentID возвращает платеж по удаленному идентификатору транзакции
func (r *PostgresPaymentRepository) GetByGatewayPaymentID(ctx context.Context, gatewayID, gatewayPaymentID string) (*domain.Payment, error) {
	var row paymentRow
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE gateway_id = $1 AND gateway_payment_id = $2`

	if err := r.db.GetContext(ctx, &row, query, gatewayID, gatewayPaymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		r.log.Errorw("Failed to get payment by gateway id", "error", err, "gatewayPaymentID", gatewayPaymentID)
		return nil, fmt.Errorf("failed to get payment by gateway id: %w", err)
	}

	return row.toDomain()
}

// GetPendingByMembershipID возвращает последний незавершенный платеж членства.
// Используется для связывания первого события шлюза с платежом чекаута.
func (r *PostgresPaymentRepository) GetPendingByMembershipID(ctx context.Context, membershipID uuid.UUID) (*domain.Payment, error) {
	var row paymentRow
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE membership_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`

	if err := r.db.GetContext(ctx, &row, query, membershipID, domain.PaymentStatusPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		r.log.Errorw("Failed to get pending payment", "error", err, "membershipID", membershipID)
		return nil, fmt.Errorf("failed to get pending payment: %w", err)
	}

	return row.toDomain()
}

// Create создает новый платеж. Частичный уникальный индекс по
// (gateway_id, gateway_payment_id) с ON CONFLICT DO NOTHING служит последним
// рубежом от двойной записи одной транзакции: проигравшая вставка возвращает
// ErrDuplicatePayment. Ожидающие платежи с пустым gateway_payment_id
// под индекс не попадают.
func (r *PostgresPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	lineItemsJSON, err := marshalLineItems(payment.LineItems)
	if err != nil {
		return err
	}
	metaJSON, err := marshalMeta(payment.Meta)
	if err != nil {
		return err
	}

	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (:id, :membership_id, :customer_id, :status, :gateway_id, :gateway_payment_id,
			:total, :subtotal, :tax_total, :discount_total, :refunded, :currency, :transaction_type,
			:line_items, :meta, :created_at, :updated_at)
		ON CONFLICT (gateway_id, gateway_payment_id) WHERE gateway_payment_id <> '' DO NOTHING`

	row := paymentRow{Payment: *payment, LineItemsJSON: lineItemsJSON, MetaJSON: metaJSON}
	result, err := r.db.NamedExecContext(ctx, query, &row)
	if err != nil {
		r.log.Errorw("Failed to create payment", "error", err, "gatewayPaymentID", payment.GatewayPaymentID)
		return fmt.Errorf("failed to create payment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}
	if affected == 0 {
		r.log.Debugw("Payment already recorded", "gatewayPaymentID", payment.GatewayPaymentID)
		return domain.ErrDuplicatePayment
	}

	r.log.Debugw("Payment created", "paymentID", payment.ID, "gatewayPaymentID", payment.GatewayPaymentID)
	return nil
}

// Update обновляет существующий платеж
func (r *PostgresPaymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	payment.UpdatedAt = time.Now().UTC()

	lineItemsJSON, err := marshalLineItems(payment.LineItems)
	if err != nil {
		return err
	}
	metaJSON, err := marshalMeta(payment.Meta)
	if err != nil {
		return err
	}

	query := `UPDATE payments SET
		status = :status, gateway_payment_id = :gateway_payment_id,
		total = :total, subtotal = :subtotal, tax_total = :tax_total,
		discount_total = :discount_total, refunded = :refunded,
		transaction_type = :transaction_type,
		line_items = :line_items, meta = :meta, updated_at = :updated_at
		WHERE id = :id`

	row := paymentRow{Payment: *payment, LineItemsJSON: lineItemsJSON, MetaJSON: metaJSON}
	result, err := r.db.NamedExecContext(ctx, query, &row)
	if err != nil {
		r.log.Errorw("Failed to update payment", "error", err, "paymentID", payment.ID)
		return fmt.Errorf("failed to update payment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}

	return nil
}

// marshalLineItems сериализует позиции платежа в JSONB
func marshalLineItems(items []domain.LineItem) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal line items: %w", err)
	}
	return data, nil
}
