package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/astroskulture/checkout/models"
)

// DefaultBaseURL is the Razorpay REST endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

// RazorpayConfig configures the Razorpay client.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration

	// MaxTries bounds attempts for idempotent reads. Order creation is
	// never retried.
	MaxTries     uint
	RetryInitial time.Duration
}

// Razorpay implements Gateway over the Razorpay REST API.
type Razorpay struct {
	cfg    RazorpayConfig
	client *http.Client
}

// NewRazorpay creates a Razorpay client. Zero config values get defaults.
func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	return &Razorpay{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type orderRequest struct {
	Amount   models.Paise `json:"amount"`
	Currency string       `json:"currency"`
	Receipt  string       `json:"receipt"`
}

type orderResponse struct {
	ID string `json:"id"`
}

type paymentEntity struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Amount    models.Paise `json:"amount"`
	Method    string       `json:"method"`
	Captured  bool         `json:"captured"`
	CreatedAt int64        `json:"created_at"`
}

type paymentCollection struct {
	Items []paymentEntity `json:"items"`
}

type errorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreatePaymentOrder implements Gateway.
func (r *Razorpay) CreatePaymentOrder(ctx context.Context, amount models.Paise, currency, receipt string) (string, error) {
	var out orderResponse
	err := r.do(ctx, http.MethodPost, "/v1/orders", orderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway: order response without id: %w", ErrRejected)
	}
	return out.ID, nil
}

// FetchPayments implements Gateway.
func (r *Razorpay) FetchPayments(ctx context.Context, gatewayOrderID string) ([]PaymentSummary, error) {
	path := "/v1/orders/" + url.PathEscape(gatewayOrderID) + "/payments"

	coll, err := retry(ctx, r, func() (paymentCollection, error) {
		var c paymentCollection
		err := r.do(ctx, http.MethodGet, path, nil, &c)
		return c, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]PaymentSummary, 0, len(coll.Items))
	for _, p := range coll.Items {
		out = append(out, PaymentSummary{ID: p.ID, Status: p.Status, Amount: p.Amount, Method: p.Method})
	}
	return out, nil
}

// FetchPayment implements Gateway.
func (r *Razorpay) FetchPayment(ctx context.Context, paymentID string) (*PaymentDetail, error) {
	path := "/v1/payments/" + url.PathEscape(paymentID)

	p, err := retry(ctx, r, func() (paymentEntity, error) {
		var p paymentEntity
		err := r.do(ctx, http.MethodGet, path, nil, &p)
		return p, err
	})
	if err != nil {
		return nil, err
	}

	d := &PaymentDetail{ID: p.ID, Status: p.Status, Amount: p.Amount, Method: p.Method}
	if p.Captured || p.Status == StatusCaptured {
		at := time.Unix(p.CreatedAt, 0).UTC()
		d.CapturedAt = &at
	}
	return d, nil
}

// VerifySignature implements Gateway.
func (r *Razorpay) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	return VerifySign(r.cfg.KeySecret, gatewayOrderID, paymentID, signature)
}

// retry runs op with exponential backoff, giving up immediately on anything
// other than ErrUnavailable.
func retry[T any](ctx context.Context, r *Razorpay, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInitial

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.MaxTries))
}

func (r *Razorpay) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("gateway: %s %s: %v: %w", method, path, err, ErrUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway: read response: %v: %w", err, ErrUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, kind: ErrRejected}
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Description = env.Error.Description
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			apiErr.kind = ErrUnavailable
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: decode %s %s: %w", method, path, err)
	}
	return nil
}
