package provider

import (
	"encoding/json"
	"fmt"
	"strconv"

	"ubipay/internal/domain"

	"github.com/shopspring/decimal"
)

type genericCallback struct {
	Reference     string          `json:"reference"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason"`
}

func parseCallback(payload []byte, statuses StatusMapper) (*CallbackResult, error) {
	var cb genericCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, err
	}
	if cb.Reference == "" {
		return nil, fmt.Errorf("callback has no reference")
	}
	status := statuses.Map(cb.Status)
	return &CallbackResult{
		Success:               status == domain.TransactionStatusCompleted,
		ProviderReference:     cb.Reference,
		ProviderTransactionID: cb.TransactionID,
		Status:                status,
		Amount:                cb.Amount,
		Currency:              domain.Currency(cb.Currency),
		Reason:                cb.Reason,
	}, nil
}

// mpesaCallback is the Lipa Na M-Pesa Online (STK push) result body.
type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func parseMpesaCallback(payload []byte, statuses StatusMapper) (*CallbackResult, error) {
	var cb mpesaCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, err
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback has no CheckoutRequestID")
	}

	status := statuses.Map(strconv.Itoa(stk.ResultCode))
	result := &CallbackResult{
		Success:           status == domain.TransactionStatusCompleted,
		ProviderReference: stk.CheckoutRequestID,
		Status:            status,
		Currency:          domain.KES,
		Amount:            decimal.Zero,
	}
	if !result.Success {
		result.Reason = stk.ResultDesc
	}

	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				result.Amount = decimal.NewFromFloat(v)
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				result.ProviderTransactionID = v
			}
		}
	}
	return result, nil
}
