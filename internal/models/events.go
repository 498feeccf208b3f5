package models

import "time"

// Event types
const (
	EventTypeKeysImported         = "KEYS_IMPORTED"
	EventTypeFulfillmentCompleted = "FULFILLMENT_COMPLETED"
	EventTypeFulfillmentFailed    = "FULFILLMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// KeysImportedEvent published after an admin key import
type KeysImportedEvent struct {
	BaseEvent
	ProductID  int64 `json:"product_id"`
	Added      int   `json:"added"`
	Duplicates int   `json:"duplicates"`
}

// FulfillmentCompletedEvent published after a fully committed order
type FulfillmentCompletedEvent struct {
	BaseEvent
	TenantID    string     `json:"tenant_id"`
	CustomerID  string     `json:"customer_id"`
	OrderID     string     `json:"order_id"`
	TotalAmount int64      `json:"total_amount"`
	Items       []LineItem `json:"items"`
}

// FulfillmentFailedEvent published after an aborted or rolled-back order
type FulfillmentFailedEvent struct {
	BaseEvent
	TenantID   string `json:"tenant_id"`
	CustomerID string `json:"customer_id"`
	OrderID    string `json:"order_id"`
	Reason     string `json:"reason"`
}
