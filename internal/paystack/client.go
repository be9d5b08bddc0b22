// Package paystack предоставляет клиент платёжного шлюза Paystack.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrGatewayUnavailable возвращается, если шлюз не сконфигурирован или недоступен.
var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentCancelled возвращается, если плательщик прервал платёж до завершения.
	ErrPaymentCancelled = errors.New("payment cancelled")
)

// Client инкапсулирует HTTP-взаимодействие с Paystack.
// Секретный ключ хранится только на сервере и никогда не передаётся клиентам.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// InitializedTransaction описывает ответ шлюза на инициализацию платежа.
type InitializedTransaction struct {
	Reference        string
	AuthorizationURL string
}

// TransactionStatus описывает результат проверки платежа по референсу.
type TransactionStatus struct {
	Reference string
	// Status — статус транзакции в шлюзе: success, failed, abandoned, pending.
	Status string
	// AmountSubunits — сумма в минимальных единицах валюты (песевы).
	AmountSubunits int64
}

// Settled сообщает, что платёж успешно завершён.
func (s *TransactionStatus) Settled() bool {
	return s != nil && s.Status == "success"
}

// Cancelled сообщает, что плательщик прервал платёж.
func (s *TransactionStatus) Cancelled() bool {
	return s != nil && s.Status == "abandoned"
}

// NewClient создаёт HTTP-клиент для обращения к Paystack по указанному адресу.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type initializeRequest struct {
	Email     string            `json:"email"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Reference string            `json:"reference"`
	Channels  []string          `json:"channels"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// Initialize создаёт транзакцию мобильных платежей на указанную сумму в целых
// единицах валюты. Повторных попыток не делает: повторная инициализация платежа —
// всегда действие пользователя.
func (c *Client) Initialize(ctx context.Context, reference string, amount int64, phone string) (*InitializedTransaction, error) {
	if c == nil || c.baseURL == "" || c.secretKey == "" {
		return nil, ErrGatewayUnavailable
	}

	reqBody := initializeRequest{
		Email:     phone + "@voting.com",
		Amount:    amount * 100,
		Currency:  "GHS",
		Reference: reference,
		Channels:  []string{"mobile_money"},
		Metadata:  map[string]string{"phone": phone},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var result initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if !result.Status {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, result.Message)
	}

	return &InitializedTransaction{
		Reference:        result.Data.Reference,
		AuthorizationURL: result.Data.AuthorizationURL,
	}, nil
}

// Verify запрашивает у шлюза статус транзакции по референсу. Возвращает также
// HTTP-статус ответа и паузу из Retry-After при ограничении частоты запросов.
func (c *Client) Verify(ctx context.Context, reference string) (*TransactionStatus, int, time.Duration, error) {
	if c == nil || c.baseURL == "" || c.secretKey == "" {
		return nil, 0, 0, ErrGatewayUnavailable
	}

	url := fmt.Sprintf("%s/transaction/verify/%s", c.baseURL, reference)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return &TransactionStatus{
		Reference:      result.Data.Reference,
		Status:         result.Data.Status,
		AmountSubunits: result.Data.Amount,
	}, resp.StatusCode, 0, nil
}
