package client

import (
	"context"
	"fmt"
)

// OrderRequest is the checkout payload. It is passed to the backend unvalidated.
type OrderRequest struct {
	BranchID      int64       `json:"branch_id"`
	AddressID     int64       `json:"address_id,omitempty"`
	Items         []OrderItem `json:"items"`
	PaymentMethod string      `json:"payment_method"`
	Notes         string      `json:"notes,omitempty"`
}

// PlaceOrder submits an order and returns it as created by the backend.
func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (*Order, error) {
	if err := c.requireSession(ctx); err != nil {
		return nil, err
	}

	var created Order
	if err := c.postJSON(ctx, OrdersPath, order, &created); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	// The cached order history no longer lists everything.
	if _, err := c.cache.ForgetEndpoint(ctx, c.principal(ctx), OrdersPath); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to drop cached order history")
	}

	c.logger.Info().
		Int64("order_id", created.ID).
		Str("status", created.Status).
		Msg("Order placed")

	return &created, nil
}
