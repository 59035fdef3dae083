// Package notification publishes operational events such as risk alerts and
// reconciliation discrepancies. Delivery is best-effort.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"ubipay/pkg/errors"
	"ubipay/pkg/logger"
)

const (
	EventRiskAlert                   = "risk.alert"
	EventReconciliationDiscrepancies = "reconciliation.discrepancies"
	EventReconciliationFailed        = "reconciliation.failed"
	EventBalanceMismatch             = "reconciliation.balance_mismatch"
	EventProviderCallback            = "provider.callback"
)

type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]interface{}) error
}

// Event is the envelope written to every sink.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func encode(event string, payload map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(Event{Type: event, Timestamp: time.Now().UTC(), Data: payload})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event")
	}
	return data, nil
}

// LogNotifier writes events to the service log.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(_ context.Context, event string, payload map[string]interface{}) error {
	fields := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		fields[k] = v
	}
	fields["event"] = event
	n.logger.Warn("Notification", fields)
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, string, map[string]interface{}) error { return nil }
