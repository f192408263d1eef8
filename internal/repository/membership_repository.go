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

// MembershipRepository интерфейс для работы с членствами
type MembershipRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error)
	GetByGatewaySubscriptionID(ctx context.Context, gatewayID, subscriptionID string) (*domain.Membership, error)
	GetByCustomerGateway(ctx context.Context, customerID uuid.UUID, gatewayID string, amount float64) (*domain.Membership, error)
	GetExpiringBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.Membership, error)
	Create(ctx context.Context, membership *domain.Membership) error
	Update(ctx context.Context, membership *domain.Membership) error
}

// membershipRow строка таблицы memberships; мета хранится как JSONB
type membershipRow struct {
	domain.Membership
	MetaJSON []byte `db:"meta"`
}

func (r *membershipRow) toDomain() (*domain.Membership, error) {
	m := r.Membership
	if len(r.MetaJSON) > 0 {
		if err := json.Unmarshal(r.MetaJSON, &m.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal membership meta: %w", err)
		}
	}
	return &m, nil
}

// PostgresMembershipRepository реализация репозитория членств в PostgreSQL
type PostgresMembershipRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresMembershipRepository создает новый репозиторий членств
func NewPostgresMembershipRepository(db *sqlx.DB, log *logger.Logger) *PostgresMembershipRepository {
	return &PostgresMembershipRepository{db: db, log: log}
}

const membershipColumns = `id, customer_id, plan_id, plan_name, status, gateway_id,
	gateway_customer_id, gateway_subscription_id, amount, initial_amount, currency,
	duration, duration_unit, times_billed, billing_cycles, auto_renew, recurring,
	date_expiration, date_renewed, date_cancellation, cancellation_reason, meta,
	created_at, updated_at`

// GetByID возвращает членство по ID
func (r *PostgresMembershipRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	var row membershipRow
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		r.log.Errorw("Failed to get membership", "error", err, "membershipID", id)
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return row.toDomain()
}

// GetByGatewaySubscriptionID возвращает членство по удаленному идентификатору подписки
func (r *PostgresMembershipRepository) GetByGatewaySubscriptionID(ctx context.Context, gatewayID, subscriptionID string) (*domain.Membership, error) {
	var row membershipRow
	query := `SELECT ` + membershipColumns + ` FROM memberships
		WHERE gateway_id = $1 AND gateway_subscription_id = $2
		ORDER BY created_at DESC LIMIT 1`

	if err := r.db.GetContext(ctx, &row, query, gatewayID, subscriptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		r.log.Errorw("Failed to get membership by subscription", "error", err, "subscriptionID", subscriptionID)
		return nil, fmt.Errorf("failed to get membership by subscription: %w", err)
	}

	return row.toDomain()
}

// GetByCustomerGateway возвращает последнее членство клиента на шлюзе с данной суммой.
// Резервный путь сопоставления событий, у которых нет ни корреляции, ни подписки.
func (r *PostgresMembershipRepository) GetByCustomerGateway(ctx context.Context, customerID uuid.UUID, gatewayID string, amount float64) (*domain.Membership, error) {
	var row membershipRow
	query := `SELECT ` + membershipColumns + ` FROM memberships
		WHERE customer_id = $1 AND gateway_id = $2 AND amount = $3
		ORDER BY created_at DESC LIMIT 1`

	if err := r.db.GetContext(ctx, &row, query, customerID, gatewayID, amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		r.log.Errorw("Failed to get membership by customer", "error", err, "customerID", customerID)
		return nil, fmt.Errorf("failed to get membership by customer: %w", err)
	}

	return row.toDomain()
}

// GetExpiringBefore возвращает активные членства, истекающие до deadline
func (r *PostgresMembershipRepository) GetExpiringBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.Membership, error) {
	var rows []membershipRow
	query := `SELECT ` + membershipColumns + ` FROM memberships
		WHERE status IN ($1, $2) AND date_expiration IS NOT NULL AND date_expiration < $3
		ORDER BY date_expiration ASC LIMIT $4`

	if err := r.db.SelectContext(ctx, &rows, query, domain.MembershipStatusActive, domain.MembershipStatusTrialing, deadline, limit); err != nil {
		r.log.Errorw("Failed to list expiring memberships", "error", err)
		return nil, fmt.Errorf("failed to list expiring memberships: %w", err)
	}

	memberships := make([]domain.Membership, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}

	return memberships, nil
}

// Create создает новое членство
func (r *PostgresMembershipRepository) Create(ctx context.Context, membership *domain.Membership) error {
	if membership.ID == uuid.Nil {
		membership.ID = uuid.New()
	}
	now := time.Now().UTC()
	membership.CreatedAt = now
	membership.UpdatedAt = now

	metaJSON, err := marshalMeta(membership.Meta)
	if err != nil {
		return err
	}

	query := `INSERT INTO memberships (` + membershipColumns + `)
		VALUES (:id, :customer_id, :plan_id, :plan_name, :status, :gateway_id,
			:gateway_customer_id, :gateway_subscription_id, :amount, :initial_amount, :currency,
			:duration, :duration_unit, :times_billed, :billing_cycles, :auto_renew, :recurring,
			:date_expiration, :date_renewed, :date_cancellation, :cancellation_reason, :meta,
			:created_at, :updated_at)`

	row := membershipRow{Membership: *membership, MetaJSON: metaJSON}
	if _, err := r.db.NamedExecContext(ctx, query, &row); err != nil {
		r.log.Errorw("Failed to create membership", "error", err, "membershipID", membership.ID)
		return fmt.Errorf("failed to create membership: %w", err)
	}

	r.log.Debugw("Membership created", "membershipID", membership.ID, "status", membership.Status)
	return nil
}

// Update обновляет существующее членство
func (r *PostgresMembershipRepository) Update(ctx context.Context, membership *domain.Membership) error {
	membership.UpdatedAt = time.Now().UTC()

	metaJSON, err := marshalMeta(membership.Meta)
	if err != nil {
		return err
	}

	query := `UPDATE memberships SET
		plan_id = :plan_id, plan_name = :plan_name, status = :status,
		gateway_id = :gateway_id, gateway_customer_id = :gateway_customer_id,
		gateway_subscription_id = :gateway_subscription_id,
		amount = :amount, initial_amount = :initial_amount, currency = :currency,
		duration = :duration, duration_unit = :duration_unit,
		times_billed = :times_billed, billing_cycles = :billing_cycles,
		auto_renew = :auto_renew, recurring = :recurring,
		date_expiration = :date_expiration, date_renewed = :date_renewed,
		date_cancellation = :date_cancellation, cancellation_reason = :cancellation_reason,
		meta = :meta, updated_at = :updated_at
		WHERE id = :id`

	row := membershipRow{Membership: *membership, MetaJSON: metaJSON}
	result, err := r.db.NamedExecContext(ctx, query, &row)
	if err != nil {
		r.log.Errorw("Failed to update membership", "error", err, "membershipID", membership.ID)
		return fmt.Errorf("failed to update membership: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return domain.ErrMembershipNotFound
	}

	return nil
}

// marshalMeta сериализует мету в JSONB. Пустая мета хранится как NULL.
func marshalMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meta: %w", err)
	}
	return data, nil
}
