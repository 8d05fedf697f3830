package exchange

import "context"

// Client is the REST boundary to the exchange. Implementations must be
// safe for concurrent use; the engine calls order entry and account
// queries from different goroutines.
type Client interface {
	// SubmitOrder places an order and returns the exchange-assigned id.
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)

	// ModifyOrder adjusts a resting order's prices or quantity.
	ModifyOrder(ctx context.Context, exchangeID string, mod OrderModification) error

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, exchangeID string) error

	// GetCashBalance returns the account balance snapshot.
	GetCashBalance(ctx context.Context, accountID string) (*CashBalance, error)

	// GetOpenPositions returns the exchange's authoritative open-position
	// list for the account.
	GetOpenPositions(ctx context.Context, accountID string) ([]OpenPosition, error)
}
