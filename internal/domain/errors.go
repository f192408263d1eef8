package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrMembershipNotFound членство не найдено
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrPaymentNotFound платеж не найден
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrCustomerNotFound клиент не найден
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrDuplicatePayment платеж с таким gateway_payment_id уже существует
	ErrDuplicatePayment = errors.New("duplicate gateway payment")

	// ErrWrongGateway членство принадлежит другому шлюзу
	ErrWrongGateway = errors.New("membership belongs to another gateway")

	// ErrVerificationFailed не удалось проверить подлинность уведомления
	ErrVerificationFailed = errors.New("notification verification failed")

	// ErrLockNotAcquired блокировка занята другим процессом
	ErrLockNotAcquired = errors.New("idempotency lock is held by another process")

	// ErrInvalidCart корзина не прошла валидацию
	ErrInvalidCart = errors.New("invalid cart")

	// ErrMaximumRenewals членство достигло максимума оплаченных периодов
	ErrMaximumRenewals = errors.New("membership is at maximum renewals")

	// ErrMissingPlan у членства не задан тарифный план
	ErrMissingPlan = errors.New("membership has no plan")

	// ErrNotSupported операция не поддерживается этим шлюзом
	ErrNotSupported = errors.New("operation is not supported by this gateway")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")
)

// GatewayError представляет ошибку внешнего платежного шлюза
type GatewayError struct {
	GatewayID   string
	Code        string
	Message     string
	HTTPStatus  int
	Retryable   bool
	OriginalErr error
}

// Error реализует интерфейс error
func (e *GatewayError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s gateway error [%s]: %s: %v", e.GatewayID, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s gateway error [%s]: %s", e.GatewayID, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *GatewayError) Unwrap() error {
	return e.OriginalErr
}

// NewGatewayError создает новую ошибку платежного шлюза
func NewGatewayError(gatewayID, code, message string, httpStatus int, retryable bool, err error) *GatewayError {
	return &GatewayError{
		GatewayID:   gatewayID,
		Code:        code,
		Message:     message,
		HTTPStatus:  httpStatus,
		Retryable:   retryable,
		OriginalErr: err,
	}
}

// IsRetryable сообщает, имеет ли смысл повторять операцию, завершившуюся этой ошибкой.
// Сетевые сбои и 5xx/429 от шлюза ретраятся, ошибки валидации и дубликаты — нет.
func IsRetryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

// OutcomeKind вид результата обработки события
type OutcomeKind int

const (
	// OutcomeOk событие обработано, состояние изменено
	OutcomeOk OutcomeKind = iota

	// OutcomeIgnorable событие намеренно проигнорировано (не ошибка)
	OutcomeIgnorable

	// OutcomeFatal обработка не удалась, шлюз должен повторить доставку
	OutcomeFatal
)

// Outcome представляет помеченный результат обработки входящего события.
// Ignorable-условия (чужой шлюз, дубликат платежа) не являются ошибками
// и должны отвечать шлюзу успехом, чтобы он не повторял доставку.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Ok возвращает успешный результат
func Ok() Outcome {
	return Outcome{Kind: OutcomeOk}
}

// Ignorable возвращает результат "намеренно проигнорировано"
func Ignorable(reason string) Outcome {
	return Outcome{Kind: OutcomeIgnorable, Reason: reason}
}

// Fatal возвращает результат с ошибкой, требующей повторной доставки
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// IsOk проверяет успешный результат
func (o Outcome) IsOk() bool {
	return o.Kind == OutcomeOk
}

// IsIgnorable проверяет результат "намеренно проигнорировано"
func (o Outcome) IsIgnorable() bool {
	return o.Kind == OutcomeIgnorable
}

// IsFatal проверяет результат с ошибкой
func (o Outcome) IsFatal() bool {
	return o.Kind == OutcomeFatal
}

// String возвращает строковое представление результата для логов и метрик
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeOk:
		return "ok"
	case OutcomeIgnorable:
		return "ignored"
	default:
		return "failed"
	}
}
