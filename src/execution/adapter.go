package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// ErrTransient marks adapter failures that are worth retrying: timeouts,
// connectivity blips, throttling and server-side errors. Everything else is
// treated as a permanent rejection.
var ErrTransient = errors.New("transient execution error")

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// SubmitRequest is the order payload handed to the adapter. The idempotency
// key is stable across retries so a duplicate downstream fill cannot be
// double-counted.
type SubmitRequest struct {
	IdempotencyKey string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	OrderType      string           `json:"order_type"`
	Quantity       int64            `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce    string           `json:"time_in_force,omitempty"`
}

// SubmitAck is the adapter's acknowledgement of an accepted order.
type SubmitAck struct {
	ExternalID string `json:"order_id"`
}

// ExecutionAdapter is the narrow exchange-facing interface. Implementations
// must treat requests with the same idempotency key as the same order.
type ExecutionAdapter interface {
	SendOrder(ctx context.Context, req SubmitRequest) (SubmitAck, error)
	CancelOrder(ctx context.Context, idempotencyKey string) error
}

// RestAdapter drives a signed REST execution endpoint.
type RestAdapter struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
}

// NewRestAdapter builds an adapter against baseURL. Retry policy lives in the
// pipeline, not here, so the client is configured without its own retries.
func NewRestAdapter(apiKey, apiSecret, baseURL string, timeout time.Duration) *RestAdapter {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	return &RestAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      httpClient,
	}
}

func signRequest(path, body string, expiry int64, secret string) string {
	base := path + fmt.Sprintf("%d", expiry) + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *RestAdapter) doRequest(ctx context.Context, method, path string, body []byte) (*resty.Response, error) {
	expiry := time.Now().Add(1 * time.Minute).Unix()
	sig := signRequest(path, string(body), expiry, a.apiSecret)

	req := a.http.R().
		SetContext(ctx).
		SetHeader("x-access-token", a.apiKey).
		SetHeader("x-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-request-signature", sig)

	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		// Network-level failure: timeout, refused connection, DNS.
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code <= 299:
		return resp, nil
	case code >= 500 && code <= 599, code == 429, code == 408:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrTransient, code, resp.Body())
	default:
		return nil, fmt.Errorf("HTTP %d: %s", code, resp.Body())
	}
}

// SendOrder submits the order. The idempotency key travels as the client
// order id so resubmissions dedupe server-side.
func (a *RestAdapter) SendOrder(ctx context.Context, req SubmitRequest) (SubmitAck, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SubmitAck{}, fmt.Errorf("marshal order: %w", err)
	}

	resp, err := a.doRequest(ctx, resty.MethodPost, "/v1/orders", body)
	if err != nil {
		return SubmitAck{}, err
	}

	var ack SubmitAck
	if err := json.Unmarshal(resp.Body(), &ack); err != nil {
		return SubmitAck{}, fmt.Errorf("decode ack: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component":   "RestAdapter",
		"client_id":   req.IdempotencyKey,
		"external_id": ack.ExternalID,
	}).Debug("Order accepted by execution endpoint")

	return ack, nil
}

// CancelOrder requests cancellation by idempotency key.
func (a *RestAdapter) CancelOrder(ctx context.Context, idempotencyKey string) error {
	path := "/v1/orders/" + idempotencyKey
	_, err := a.doRequest(ctx, resty.MethodDelete, path, nil)
	return err
}
