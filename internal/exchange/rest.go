package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// RESTClient talks to the exchange's order-entry REST API using bearer
// token auth. It implements the Client interface.
type RESTClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewRESTClient creates a REST client for the given API base URL.
func NewRESTClient(baseURL, accessToken string, logger zerolog.Logger) *RESTClient {
	return &RESTClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger.With().Str("component", "ExchangeClient").Logger(),
	}
}

type submitResponse struct {
	OrderID      string `json:"orderId"`
	FailureText  string `json:"failureText,omitempty"`
	FailureCode  string `json:"failureReason,omitempty"`
}

// SubmitOrder places an order and returns the exchange-assigned id.
func (c *RESTClient) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	var resp submitResponse
	if err := c.post(ctx, "/v1/order/placeorder", req, &resp); err != nil {
		return "", err
	}
	if resp.FailureText != "" || resp.OrderID == "" {
		return "", fmt.Errorf("order rejected by exchange: %s %s", resp.FailureCode, resp.FailureText)
	}
	c.logger.Info().
		Str("client_id", req.ClientID).
		Str("exchange_id", resp.OrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int("quantity", req.Quantity).
		Msg("Order submitted")
	return resp.OrderID, nil
}

// ModifyOrder adjusts a resting order's prices or quantity.
func (c *RESTClient) ModifyOrder(ctx context.Context, exchangeID string, mod OrderModification) error {
	body := struct {
		OrderID string `json:"orderId"`
		OrderModification
	}{OrderID: exchangeID, OrderModification: mod}

	var resp submitResponse
	if err := c.post(ctx, "/v1/order/modifyorder", body, &resp); err != nil {
		return err
	}
	if resp.FailureText != "" {
		return fmt.Errorf("modify rejected by exchange: %s %s", resp.FailureCode, resp.FailureText)
	}
	return nil
}

// CancelOrder cancels a resting order.
func (c *RESTClient) CancelOrder(ctx context.Context, exchangeID string) error {
	body := struct {
		OrderID string `json:"orderId"`
	}{OrderID: exchangeID}

	var resp submitResponse
	if err := c.post(ctx, "/v1/order/cancelorder", body, &resp); err != nil {
		return err
	}
	if resp.FailureText != "" {
		return fmt.Errorf("cancel rejected by exchange: %s %s", resp.FailureCode, resp.FailureText)
	}
	return nil
}

// GetCashBalance returns the account balance snapshot.
func (c *RESTClient) GetCashBalance(ctx context.Context, accountID string) (*CashBalance, error) {
	var out CashBalance
	params := url.Values{}
	params.Set("accountId", accountID)
	if err := c.get(ctx, "/v1/account/cashbalance", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOpenPositions returns the exchange's open-position list.
func (c *RESTClient) GetOpenPositions(ctx context.Context, accountID string) ([]OpenPosition, error) {
	var out []OpenPosition
	params := url.Values{}
	params.Set("accountId", accountID)
	if err := c.get(ctx, "/v1/position/list", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	return c.do(req, out)
}

func (c *RESTClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	return c.do(req, out)
}

func (c *RESTClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange API error (%d): %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("error parsing response: %w", err)
		}
	}
	return nil
}
