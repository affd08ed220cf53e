package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RESTClient talks to the brokerage REST API. It implements both OrderGateway
// and AccountFeed.
type RESTClient struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error (%d): %s", e.Status, e.Body)
}

func NewRESTClient(httpClient *http.Client, host, apiKey string) *RESTClient {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	return &RESTClient{
		host:       host,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (c *RESTClient) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

type submitOrderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      string `json:"qty"`
	OrderType     string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	FilledQty      string  `json:"filled_qty"`
	FilledAvgPrice *string `json:"filled_avg_price"`
	UpdatedAt      string  `json:"updated_at"`
}

func (c *RESTClient) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("quantity must be positive")
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = "market"
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/v2/orders", nil, submitOrderRequest{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity.String(),
		OrderType:     orderType,
		TimeInForce:   "day",
	})
	if err != nil {
		return "", err
	}
	var out orderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode order response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("broker returned order without id")
	}
	return out.ID, nil
}

func (c *RESTClient) GetOrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	if strings.TrimSpace(orderID) == "" {
		return OrderState{}, fmt.Errorf("order_id is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return OrderState{}, err
	}
	var out orderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return OrderState{}, fmt.Errorf("failed to decode order response: %w", err)
	}
	return orderStateFromResponse(out)
}

func orderStateFromResponse(out orderResponse) (OrderState, error) {
	state := OrderState{
		OrderID: out.ID,
		Status:  strings.ToLower(strings.TrimSpace(out.Status)),
	}
	if out.FilledQty != "" {
		qty, err := decimal.NewFromString(out.FilledQty)
		if err != nil {
			return OrderState{}, fmt.Errorf("invalid filled_qty %q: %w", out.FilledQty, err)
		}
		state.FilledQty = qty
	}
	if out.FilledAvgPrice != nil && *out.FilledAvgPrice != "" {
		price, err := decimal.NewFromString(*out.FilledAvgPrice)
		if err != nil {
			return OrderState{}, fmt.Errorf("invalid filled_avg_price %q: %w", *out.FilledAvgPrice, err)
		}
		state.FilledAvgPrice = price
	}
	if out.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, out.UpdatedAt); err == nil {
			state.UpdatedAt = ts
		}
	}
	return state, nil
}

type accountResponse struct {
	Equity string `json:"equity"`
	Cash   string `json:"cash"`
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	AssetClass    string `json:"asset_class"`
	Quantity      string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

func (c *RESTClient) AccountState(ctx context.Context) (AccountState, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v2/account", nil, nil)
	if err != nil {
		return AccountState{}, err
	}
	var acct accountResponse
	if err := json.Unmarshal(body, &acct); err != nil {
		return AccountState{}, fmt.Errorf("failed to decode account: %w", err)
	}
	equity, err := decimal.NewFromString(acct.Equity)
	if err != nil {
		return AccountState{}, fmt.Errorf("invalid equity %q: %w", acct.Equity, err)
	}
	cash, err := decimal.NewFromString(acct.Cash)
	if err != nil {
		return AccountState{}, fmt.Errorf("invalid cash %q: %w", acct.Cash, err)
	}

	body, err = c.doRequest(ctx, http.MethodGet, "/v2/positions", nil, nil)
	if err != nil {
		return AccountState{}, err
	}
	var rows []positionResponse
	if err := json.Unmarshal(body, &rows); err != nil {
		return AccountState{}, fmt.Errorf("failed to decode positions: %w", err)
	}
	out := AccountState{
		Equity:     equity,
		Cash:       cash,
		DataSource: DataSourceLive,
		AsOf:       time.Now().UTC(),
	}
	for _, row := range rows {
		qty, err := decimal.NewFromString(row.Quantity)
		if err != nil {
			return AccountState{}, fmt.Errorf("position %s: invalid qty %q: %w", row.Symbol, row.Quantity, err)
		}
		avg, err := decimal.NewFromString(row.AvgEntryPrice)
		if err != nil {
			return AccountState{}, fmt.Errorf("position %s: invalid avg_entry_price %q: %w", row.Symbol, row.AvgEntryPrice, err)
		}
		out.Positions = append(out.Positions, BrokerPosition{
			Symbol:        row.Symbol,
			AssetClass:    strings.ToLower(strings.TrimSpace(row.AssetClass)),
			Quantity:      qty,
			AvgEntryPrice: avg,
		})
	}
	return out, nil
}

var (
	_ OrderGateway = (*RESTClient)(nil)
	_ AccountFeed  = (*RESTClient)(nil)
)
