package stripe

import (
	"context"
	"net/url"

	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
)

// CustomerResponse представляет ответ API Stripe о клиенте
type CustomerResponse struct {
	ID       string            `json:"id"`
	Object   string            `json:"object"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Deleted  bool              `json:"deleted"`
	Metadata map[string]string `json:"metadata"`
	Error    *ErrorResponse    `json:"error,omitempty"`
}

// GetOrCreateCustomer ищет клиента по сохраненному удаленному id.
// Промах, удаленный клиент или любой сбой чтения приводят к созданию
// нового клиента: для чекаута важнее продолжить, чем разобраться,
// почему старый id не разрешился.
func (c *Client) GetOrCreateCustomer(ctx context.Context, ref gateway.CustomerRef, existingRemoteID string) (*gateway.RemoteCustomer, error) {
	if existingRemoteID != "" {
		existing, err := c.getCustomer(ctx, existingRemoteID)
		if err == nil && existing != nil && !existing.Deleted {
			c.log.Debugw("Reusing existing Stripe customer", "customerID", existing.ID)
			return &gateway.RemoteCustomer{ID: existing.ID, Email: existing.Email}, nil
		}
		if err != nil {
			c.log.Warnw("Failed to retrieve Stripe customer, creating a new one", "customerID", existingRemoteID, "error", err)
		}
	}

	return c.createCustomer(ctx, ref)
}

// getCustomer получает клиента из Stripe по ID
func (c *Client) getCustomer(ctx context.Context, customerID string) (*CustomerResponse, error) {
	var resp CustomerResponse
	status, err := c.do(ctx, "GET", "/customers/"+customerID, nil, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		if isResourceMissing(resp.Error) {
			return nil, nil
		}
		return nil, c.apiError(resp.Error, status)
	}

	return &resp, nil
}

// createCustomer создает нового клиента в Stripe из платежного профиля
func (c *Client) createCustomer(ctx context.Context, ref gateway.CustomerRef) (*gateway.RemoteCustomer, error) {
	c.log.Debugw("Creating Stripe customer", "email", ref.Email)

	formData := url.Values{}
	formData.Add("email", ref.Email)
	if ref.Name != "" {
		formData.Add("name", ref.Name)
	}
	if ref.Country != "" {
		formData.Add("address[country]", ref.Country)
	}
	if ref.Address != "" {
		formData.Add("address[line1]", ref.Address)
	}
	if ref.City != "" {
		formData.Add("address[city]", ref.City)
	}
	if ref.PostalCode != "" {
		formData.Add("address[postal_code]", ref.PostalCode)
	}
	formData.Add("metadata[customer_id]", ref.CustomerID)

	var resp CustomerResponse
	status, err := c.do(ctx, "POST", "/customers", formData, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	c.log.Infow("Successfully created Stripe customer", "customerID", resp.ID)
	return &gateway.RemoteCustomer{ID: resp.ID, Email: resp.Email}, nil
}
