package provider

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

	"ubipay/internal/domain"
	"ubipay/pkg/config"
	"ubipay/pkg/errors"
	"ubipay/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// StatusError carries an unexpected HTTP status from a provider API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// CallbackParser decodes a provider webhook body.
type CallbackParser func(payload []byte, statuses StatusMapper) (*CallbackResult, error)

type RESTConfig struct {
	Provider     domain.Provider
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// RESTConfigFromEndpoint adapts the environment settings of one network.
func RESTConfigFromEndpoint(p domain.Provider, ep config.ProviderEndpoint, timeout time.Duration) RESTConfig {
	return RESTConfig{
		Provider:     p,
		BaseURL:      ep.BaseURL,
		TokenURL:     ep.TokenURL,
		ClientID:     ep.ClientID,
		ClientSecret: ep.ClientSecret,
		Timeout:      timeout,
	}
}

// RESTAdapter talks to a provider's JSON-over-HTTPS API. Requests are
// authenticated with an OAuth2 client-credentials token when TokenURL is set.
type RESTAdapter struct {
	provider  domain.Provider
	baseURL   string
	client    *http.Client
	statuses  StatusMapper
	callbacks CallbackParser
	logger    logger.Logger
}

func NewRESTAdapter(cfg RESTConfig, log logger.Logger) *RESTAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
		client = cc.Client(ctx)
		client.Timeout = timeout
	}

	parser := parseCallback
	if cfg.Provider == domain.ProviderMPesa {
		parser = parseMpesaCallback
	}

	return &RESTAdapter{
		provider:  cfg.Provider,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    client,
		statuses:  MapperFor(cfg.Provider),
		callbacks: parser,
		logger:    log,
	}
}

func (a *RESTAdapter) Provider() domain.Provider {
	return a.provider
}

type paymentResponse struct {
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	PaymentURL    string `json:"payment_url"`
}

func (a *RESTAdapter) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	var resp paymentResponse
	if err := a.call(ctx, http.MethodPost, "/payments", nil, req, &resp); err != nil {
		return nil, err
	}
	ref := resp.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &PaymentResponse{
		Status:                a.statuses.Map(resp.Status),
		Reference:             ref,
		ProviderTransactionID: resp.TransactionID,
		PaymentURL:            resp.PaymentURL,
	}, nil
}

type queryResponse struct {
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id"`
}

func (a *RESTAdapter) QueryTransaction(ctx context.Context, reference string) (*QueryResponse, error) {
	var resp queryResponse
	if err := a.call(ctx, http.MethodGet, "/transactions/"+url.PathEscape(reference), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &QueryResponse{
		Status:                a.statuses.Map(resp.Status),
		Amount:                resp.Amount,
		Currency:              domain.Currency(resp.Currency),
		ProviderTransactionID: resp.TransactionID,
	}, nil
}

func (a *RESTAdapter) Disbursement(ctx context.Context, req DisbursementRequest) (*DisbursementResponse, error) {
	var resp paymentResponse
	if err := a.call(ctx, http.MethodPost, "/disbursements", nil, req, &resp); err != nil {
		return nil, err
	}
	return &DisbursementResponse{
		Status:                a.statuses.Map(resp.Status),
		ProviderTransactionID: resp.TransactionID,
	}, nil
}

func (a *RESTAdapter) GetBalance(ctx context.Context, currency domain.Currency) decimal.Decimal {
	var resp struct {
		Balance  decimal.Decimal `json:"balance"`
		Currency string          `json:"currency"`
	}
	q := url.Values{"currency": {string(currency)}}
	if err := a.call(ctx, http.MethodGet, "/balance", q, nil, &resp); err != nil {
		a.logger.Error("Failed to fetch provider balance", map[string]interface{}{
			"provider": a.provider,
			"currency": currency,
			"error":    err.Error(),
		})
		return decimal.Zero
	}
	return resp.Balance
}

func (a *RESTAdapter) HandleCallback(_ context.Context, payload []byte) (*CallbackResult, error) {
	result, err := a.callbacks(payload, a.statuses)
	if err != nil {
		return nil, errors.NewProviderError(a.provider.DisplayName(), "invalid callback payload", err)
	}
	result.Provider = a.provider
	return result, nil
}

type listResponse struct {
	Transactions []struct {
		Reference string          `json:"reference"`
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		Status    string          `json:"status"`
		Timestamp time.Time       `json:"timestamp"`
	} `json:"transactions"`
}

func (a *RESTAdapter) ListTransactions(ctx context.Context, date time.Time, currency domain.Currency) ([]Transaction, error) {
	q := url.Values{
		"date":     {date.Format("2006-01-02")},
		"currency": {string(currency)},
	}
	var resp listResponse
	if err := a.call(ctx, http.MethodGet, "/transactions", q, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(resp.Transactions))
	for _, t := range resp.Transactions {
		out = append(out, Transaction{
			ProviderReference: t.Reference,
			Amount:            t.Amount,
			Currency:          domain.Currency(t.Currency),
			Status:            a.statuses.Map(t.Status),
			OccurredAt:        t.Timestamp,
		})
	}
	return out, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *RESTAdapter) call(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return errors.NewProviderError(a.provider.DisplayName(), msg, &StatusError{Code: resp.StatusCode})
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewProviderError(a.provider.DisplayName(), "malformed response", err)
	}
	return nil
}
