package payments

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

	"chatfunnel_backend/platform/config"
	"chatfunnel_backend/platform/logger"
)

// WiinPay is the Provider backed by the WiinPay PIX API.
type WiinPay struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type createRequest struct {
	APIKey      string  `json:"api_key"`
	Value       float64 `json:"value"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Description string  `json:"description"`
}

// NewWiinPay returns nil when no API key is configured.
func NewWiinPay(cfg config.PaymentConfig, log *logger.Logger) *WiinPay {
	if cfg.GetPaymentAPIKey() == "" {
		return nil
	}

	return &WiinPay{
		baseURL: strings.TrimRight(cfg.GetPaymentAPIURL(), "/"),
		apiKey:  cfg.GetPaymentAPIKey(),
		http:    &http.Client{Timeout: 20 * time.Second},
		log:     log,
	}
}

func (w *WiinPay) CreatePayment(ctx context.Context, charge Charge) (Payment, error) {
	if w == nil {
		return Payment{}, ErrNotConfigured
	}

	body, err := json.Marshal(createRequest{
		APIKey:      w.apiKey,
		Value:       charge.Value,
		Name:        charge.PayerName,
		Email:       charge.PayerEmail,
		Description: charge.Description,
	})
	if err != nil {
		return Payment{}, fmt.Errorf("marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/payment/create", bytes.NewBuffer(body))
	if err != nil {
		return Payment{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	doc, err := w.do(req)
	if err != nil {
		return Payment{}, err
	}

	payment := Payment{
		ID:     firstString(doc, []string{"paymentId"}, []string{"data", "paymentId"}, []string{"id"}, []string{"data", "id"}),
		Code:   firstString(doc, []string{"qr_code"}, []string{"qrCode"}, []string{"pixCopiaCola"}, []string{"data", "qr_code"}, []string{"data", "pixCopiaCola"}),
		Status: firstString(doc, []string{"status"}, []string{"data", "status"}),
	}
	if payment.Status == "" {
		payment.Status = "pending"
	}
	if payment.Code == "" {
		return Payment{}, fmt.Errorf("payment provider returned no payment code")
	}

	w.log.Info("payment created", "paymentId", payment.ID, "value", charge.Value)
	return payment, nil
}

func (w *WiinPay) PaymentStatus(ctx context.Context, paymentID string) (string, error) {
	if w == nil {
		return "", ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/payment/list/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Accept", "application/json")

	doc, err := w.do(req)
	if err != nil {
		return "", err
	}

	status := firstString(doc,
		[]string{"status"},
		[]string{"data", "status"},
		[]string{"payment", "status"},
		[]string{"data", "payment", "status"},
	)
	if status == "" {
		status = "pending"
	}
	return strings.ToLower(status), nil
}

func (w *WiinPay) do(req *http.Request) (map[string]any, error) {
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read payment response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("payment provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	return doc, nil
}

// firstString returns the first non-empty value found at any of the paths.
// Numeric ids are rendered without a fraction.
func firstString(doc map[string]any, paths ...[]string) string {
	for _, path := range paths {
		var cur any = doc
		for _, key := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = m[key]
		}
		switch v := cur.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

var _ Provider = (*WiinPay)(nil)
