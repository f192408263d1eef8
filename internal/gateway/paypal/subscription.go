package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
)

// Метаключи, через которые redirect-поток передает идентификаторы
// express checkout между префлайтом и завершением оплаты
const (
	MetaExpressToken = "paypal_token"
	MetaPayerID      = "paypal_payer_id"
)

// GetOrCreateCustomer у redirect-шлюза нет хранимого клиента:
// плательщик идентифицируется при возврате с одобренной оплатой.
// Возвращается уже известный PayerID, если он был сохранен ранее.
func (c *Client) GetOrCreateCustomer(ctx context.Context, ref gateway.CustomerRef, existingRemoteID string) (*gateway.RemoteCustomer, error) {
	return &gateway.RemoteCustomer{ID: existingRemoteID, Email: ref.Email}, nil
}

// BuildLineItems конвертирует корзину в позиции для NVP запросов.
// Удаленных ценовых ресурсов у PayPal нет, позиции передаются суммами.
func (c *Client) BuildLineItems(ctx context.Context, cart *domain.Cart) ([]gateway.RemoteLineItem, error) {
	if cart == nil || len(cart.LineItems) == 0 {
		return nil, domain.ErrInvalidCart
	}

	items := make([]gateway.RemoteLineItem, 0, len(cart.LineItems))
	for _, li := range cart.LineItems {
		item := gateway.RemoteLineItem{
			Quantity:    li.Quantity,
			AmountMinor: domain.ToMinorUnits(li.Total),
			Currency:    cart.Currency,
			Description: li.Title,
			Recurring:   li.Recurring,
		}
		if li.Recurring {
			item.Interval = cart.DurationUnit
			item.IntervalCount = cart.Duration
		}
		items = append(items, item)
	}

	return items, nil
}

// SetExpressCheckout открывает сессию express checkout и возвращает токен,
// из которого строится URL перенаправления плательщика
func (c *Client) SetExpressCheckout(ctx context.Context, totalMinor int64, currency, description, returnURL, cancelURL string, recurring bool, correlation domain.Correlation) (string, error) {
	c.log.Debugw("Setting up PayPal express checkout", "amount", totalMinor, "currency", currency)

	params := url.Values{}
	params.Add("RETURNURL", returnURL)
	params.Add("CANCELURL", cancelURL)
	params.Add("PAYMENTREQUEST_0_AMT", formatAmount(totalMinor))
	params.Add("PAYMENTREQUEST_0_CURRENCYCODE", currency)
	params.Add("PAYMENTREQUEST_0_PAYMENTACTION", "Sale")
	params.Add("PAYMENTREQUEST_0_CUSTOM", correlation.String())
	params.Add("PAYMENTREQUEST_0_DESC", description)
	params.Add("NOSHIPPING", "1")

	if recurring {
		params.Add("L_BILLINGTYPE0", "RecurringPayments")
		params.Add("L_BILLINGAGREEMENTDESCRIPTION0", description)
	}

	resp, err := c.call(ctx, "SetExpressCheckout", params)
	if err != nil {
		return "", err
	}

	token := resp.Get("TOKEN")
	if token == "" {
		return "", fmt.Errorf("SetExpressCheckout returned no token")
	}

	c.log.Infow("PayPal express checkout session created", "token", token)
	return token, nil
}

// CreateSubscription создает профиль повторяющихся платежей.
// customerID несет PayerID, paymentMethod — токен express checkout.
// Уникальность обеспечивает PROFILEREFERENCE: PayPal отклоняет повторное
// создание профиля по тому же токену.
func (c *Client) CreateSubscription(ctx context.Context, customerID string, items []gateway.RemoteLineItem, start gateway.StartPolicy, paymentMethod string, correlation domain.Correlation) (*gateway.RemoteSubscription, error) {
	c.log.Debugw("Creating PayPal recurring payments profile", "payerID", customerID)

	var recurringMinor int64
	var description string
	var interval string
	var intervalCount int
	for _, item := range items {
		if item.Recurring {
			recurringMinor += item.AmountMinor * int64(item.Quantity)
			if description == "" {
				description = item.Description
			}
			if item.Interval != "" {
				interval = item.Interval
				intervalCount = item.IntervalCount
			}
		}
	}
	if recurringMinor == 0 {
		return nil, fmt.Errorf("%w: no recurring items for profile", domain.ErrInvalidCart)
	}

	currency := items[0].Currency

	startDate := time.Now().UTC()
	switch start.Kind {
	case gateway.StartTrialUntil, gateway.StartAnchorAt:
		// Начальный платеж взят через DoExpressCheckoutPayment,
		// профиль начинает биллиться со следующей границы периода
		startDate = start.Date.UTC()
	}

	params := url.Values{}
	params.Add("TOKEN", paymentMethod)
	params.Add("PAYERID", customerID)
	params.Add("PROFILESTARTDATE", startDate.Format(time.RFC3339))
	params.Add("DESC", description)
	params.Add("AMT", formatAmount(recurringMinor))
	params.Add("CURRENCYCODE", currency)
	params.Add("BILLINGPERIOD", billingPeriod(interval))
	params.Add("BILLINGFREQUENCY", strconv.Itoa(maxInt(intervalCount, 1)))
	params.Add("PROFILEREFERENCE", correlation.String())
	params.Add("MAXFAILEDPAYMENTS", "3")
	params.Add("AUTOBILLOUTAMT", "AddToNextBilling")

	resp, err := c.call(ctx, "CreateRecurringPaymentsProfile", params)
	if err != nil {
		return nil, err
	}

	profileID := resp.Get("PROFILEID")
	if profileID == "" {
		return nil, fmt.Errorf("CreateRecurringPaymentsProfile returned no profile id")
	}

	c.log.Infow("PayPal recurring profile created", "profileID", profileID, "status", resp.Get("PROFILESTATUS"))
	return &gateway.RemoteSubscription{
		ID:               profileID,
		Status:           resp.Get("PROFILESTATUS"),
		CurrentPeriodEnd: startDate,
	}, nil
}

// CreateSubscriptionProfile создает профиль с явным периодом биллинга.
// Используется сервисом чекаута, которому известны длительность и единица периода.
func (c *Client) CreateSubscriptionProfile(ctx context.Context, payerID, token string, amountMinor int64, currency string, duration int, durationUnit string, startDate time.Time, correlation domain.Correlation, description string) (*gateway.RemoteSubscription, error) {
	params := url.Values{}
	params.Add("TOKEN", token)
	params.Add("PAYERID", payerID)
	params.Add("PROFILESTARTDATE", startDate.UTC().Format(time.RFC3339))
	params.Add("DESC", description)
	params.Add("AMT", formatAmount(amountMinor))
	params.Add("CURRENCYCODE", currency)
	params.Add("BILLINGPERIOD", billingPeriod(durationUnit))
	params.Add("BILLINGFREQUENCY", strconv.Itoa(maxInt(duration, 1)))
	params.Add("PROFILEREFERENCE", correlation.String())
	params.Add("MAXFAILEDPAYMENTS", "3")
	params.Add("AUTOBILLOUTAMT", "AddToNextBilling")

	resp, err := c.call(ctx, "CreateRecurringPaymentsProfile", params)
	if err != nil {
		return nil, err
	}

	profileID := resp.Get("PROFILEID")
	if profileID == "" {
		return nil, fmt.Errorf("CreateRecurringPaymentsProfile returned no profile id")
	}

	return &gateway.RemoteSubscription{
		ID:               profileID,
		Status:           resp.Get("PROFILESTATUS"),
		CurrentPeriodEnd: startDate,
	}, nil
}

// UpdateSubscription профили PayPal не поддерживают замену позиций:
// смена тарифа выполняется отменой старого профиля и созданием нового
func (c *Client) UpdateSubscription(ctx context.Context, id string, items []gateway.RemoteLineItem, proration gateway.ProrationPolicy) (*gateway.RemoteSubscription, error) {
	return nil, domain.ErrNotSupported
}

// Коды ошибок ManageRecurringPaymentsProfileStatus, означающие,
// что профиль уже не активен
const (
	errCodeInvalidProfileStatus = "11556"
	errCodeProfileNotFound      = "11552"
)

// CancelSubscription отменяет профиль повторяющихся платежей.
// Уже отмененный или отсутствующий профиль считается успехом.
func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	c.log.Debugw("Cancelling PayPal recurring profile", "profileID", id)

	params := url.Values{}
	params.Add("PROFILEID", id)
	params.Add("ACTION", "Cancel")
	params.Add("NOTE", "Membership cancellation")

	_, err := c.call(ctx, "ManageRecurringPaymentsProfileStatus", params)
	if err != nil {
		var ge *domain.GatewayError
		if errors.As(err, &ge) && (ge.Code == errCodeInvalidProfileStatus || ge.Code == errCodeProfileNotFound) {
			c.log.Debugw("PayPal profile already inactive", "profileID", id, "code", ge.Code)
			return nil
		}
		return err
	}

	c.log.Infow("PayPal recurring profile cancelled", "profileID", id)
	return nil
}

// CreateCharge завершает разовую оплату express checkout.
// customerID несет PayerID, meta[MetaExpressToken] — токен сессии.
func (c *Client) CreateCharge(ctx context.Context, customerID string, amountMinor int64, currency, description string, meta map[string]string) (*gateway.RemoteCharge, error) {
	token := meta[MetaExpressToken]
	if token == "" {
		return nil, fmt.Errorf("%w: missing express checkout token", domain.ErrInvalidCart)
	}

	params := url.Values{}
	params.Add("TOKEN", token)
	params.Add("PAYERID", customerID)
	params.Add("PAYMENTREQUEST_0_AMT", formatAmount(amountMinor))
	params.Add("PAYMENTREQUEST_0_CURRENCYCODE", currency)
	params.Add("PAYMENTREQUEST_0_PAYMENTACTION", "Sale")
	if custom, ok := meta["custom"]; ok {
		params.Add("PAYMENTREQUEST_0_CUSTOM", custom)
	}

	resp, err := c.call(ctx, "DoExpressCheckoutPayment", params)
	if err != nil {
		return nil, err
	}

	txnID := resp.Get("PAYMENTINFO_0_TRANSACTIONID")
	status := resp.Get("PAYMENTINFO_0_PAYMENTSTATUS")

	c.log.Infow("PayPal express checkout payment completed", "transactionID", txnID, "status", status)
	return &gateway.RemoteCharge{ID: txnID, Status: status}, nil
}

// CreateRefund создает возврат по транзакции.
// Нулевая сумма означает полный возврат.
func (c *Client) CreateRefund(ctx context.Context, remotePaymentID string, amountMinor int64) error {
	c.log.Debugw("Creating PayPal refund", "transactionID", remotePaymentID, "amount", amountMinor)

	params := url.Values{}
	params.Add("TRANSACTIONID", remotePaymentID)
	if amountMinor > 0 {
		params.Add("REFUNDTYPE", "Partial")
		params.Add("AMT", formatAmount(amountMinor))
	} else {
		params.Add("REFUNDTYPE", "Full")
	}

	resp, err := c.call(ctx, "RefundTransaction", params)
	if err != nil {
		return err
	}

	c.log.Infow("PayPal refund created", "refundTransactionID", resp.Get("REFUNDTRANSACTIONID"))
	return nil
}

// RetrieveEvent у PayPal нет API перечитывания уведомлений:
// подлинность IPN подтверждается обратным запросом (см. VerifyIPN)
func (c *Client) RetrieveEvent(ctx context.Context, eventID string) (*domain.InboundEvent, error) {
	return nil, domain.ErrNotSupported
}

// billingPeriod переводит единицу периода в значение BILLINGPERIOD
func billingPeriod(unit string) string {
	switch unit {
	case "day":
		return "Day"
	case "week":
		return "Week"
	case "year":
		return "Year"
	default:
		return "Month"
	}
}

// formatAmount форматирует сумму в десятичную строку NVP
func formatAmount(amountMinor int64) string {
	return strconv.FormatFloat(domain.FromMinorUnits(amountMinor), 'f', 2, 64)
}

// maxInt возвращает большее из двух целых
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
