package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// RESTBroker talks to the brokerage order API over signed HTTP. It only
// implements the three calls the engine needs; streaming market data lives
// in the feed package.
type RESTBroker struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
}

func NewRESTBroker(apiKey, apiSecret, baseURL string, timeout time.Duration) *RESTBroker {
	return &RESTBroker{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
	}
}

func (b *RESTBroker) sign(params string, timestamp int64) string {
	toSign := fmt.Sprintf("%d%s%s", timestamp, b.apiKey, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *RESTBroker) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-API-KEY", b.apiKey)
	req.Header.Set("X-API-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-API-SIGN", b.sign(paramsStr, timestamp))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker returned %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (b *RESTBroker) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (string, error) {
	payload := map[string]interface{}{
		"symbol":   spec.Symbol,
		"side":     string(spec.Side),
		"quantity": spec.Quantity,
	}
	if spec.Price > 0 {
		payload["price"] = spec.Price
	}

	respBody, err := b.sendRequest(ctx, http.MethodPost, "/v1/orders", payload)
	if err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("submit order: decode response: %w", err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("submit order rejected: %s", resp.Message)
	}
	return resp.OrderID, nil
}

func (b *RESTBroker) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/v1/orders/%s/cancel", orderID)
	if _, err := b.sendRequest(ctx, http.MethodPost, path, map[string]interface{}{}); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (b *RESTBroker) QueryStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	path := fmt.Sprintf("/v1/orders/%s", orderID)
	respBody, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("query order %s: %w", orderID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("query order %s: decode response: %w", orderID, err)
	}
	return mapStatus(resp.Status)
}

func mapStatus(s string) (domain.OrderStatus, error) {
	switch strings.ToUpper(s) {
	case "PENDING", "NEW":
		return domain.OrderPending, nil
	case "OPEN", "PLACED", "WORKING":
		return domain.OrderPlaced, nil
	case "FILLED", "EXECUTED":
		return domain.OrderExecuted, nil
	case "REJECTED":
		return domain.OrderRejected, nil
	case "CANCELLED", "CANCELED":
		return domain.OrderCancelled, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}
