package provider

import (
	"context"
	"time"

	"ubipay/internal/domain"
	"ubipay/pkg/errors"
	"ubipay/pkg/logger"
	"ubipay/pkg/metrics"

	"github.com/shopspring/decimal"
)

type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// backoff returns the wait before retry n (1-based), doubling up to MaxBackoff.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

type retrying struct {
	next   Adapter
	policy RetryPolicy
	logger logger.Logger
}

// WithRetry retries transient failures of next with bounded exponential
// backoff. The final failure is returned as *errors.ProviderError.
func WithRetry(next Adapter, policy RetryPolicy, log logger.Logger) Adapter {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &retrying{next: next, policy: policy, logger: log}
}

func (r *retrying) Provider() domain.Provider {
	return r.next.Provider()
}

func (r *retrying) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	var resp *PaymentResponse
	err := r.do(ctx, "create_payment", func(ctx context.Context) (err error) {
		resp, err = r.next.CreatePayment(ctx, req)
		return err
	})
	return resp, err
}

func (r *retrying) QueryTransaction(ctx context.Context, reference string) (*QueryResponse, error) {
	var resp *QueryResponse
	err := r.do(ctx, "query_transaction", func(ctx context.Context) (err error) {
		resp, err = r.next.QueryTransaction(ctx, reference)
		return err
	})
	return resp, err
}

func (r *retrying) Disbursement(ctx context.Context, req DisbursementRequest) (*DisbursementResponse, error) {
	var resp *DisbursementResponse
	err := r.do(ctx, "disbursement", func(ctx context.Context) (err error) {
		resp, err = r.next.Disbursement(ctx, req)
		return err
	})
	return resp, err
}

func (r *retrying) GetBalance(ctx context.Context, currency domain.Currency) decimal.Decimal {
	return r.next.GetBalance(ctx, currency)
}

// HandleCallback is parsing only and is never retried.
func (r *retrying) HandleCallback(ctx context.Context, payload []byte) (*CallbackResult, error) {
	return r.next.HandleCallback(ctx, payload)
}

func (r *retrying) ListTransactions(ctx context.Context, date time.Time, currency domain.Currency) ([]Transaction, error) {
	var out []Transaction
	err := r.do(ctx, "list_transactions", func(ctx context.Context) (err error) {
		out, err = r.next.ListTransactions(ctx, date, currency)
		return err
	})
	return out, err
}

func (r *retrying) do(ctx context.Context, op string, call func(context.Context) error) error {
	provider := r.next.Provider()
	var err error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		err = call(ctx)
		metrics.ProviderCalls.WithLabelValues(string(provider), op, metrics.Outcome(err)).Inc()
		if err == nil || !retryable(err) || attempt == r.policy.Attempts {
			break
		}

		wait := r.policy.backoff(attempt)
		r.logger.Warn("Provider call failed, retrying", map[string]interface{}{
			"provider": provider,
			"op":       op,
			"attempt":  attempt,
			"backoff":  wait.String(),
			"error":    err.Error(),
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.NewProviderError(provider.DisplayName(), ctx.Err().Error(), ctx.Err())
		case <-timer.C:
		}
	}
	if err == nil {
		return nil
	}

	var pe *errors.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return errors.NewProviderError(provider.DisplayName(), err.Error(), err)
}

// retryable reports whether err is worth another attempt: transport failures,
// 429 and 5xx responses.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	var pe *errors.ProviderError
	if errors.As(err, &pe) && pe.Err == nil {
		// the network answered with a business error
		return false
	}
	return true
}
