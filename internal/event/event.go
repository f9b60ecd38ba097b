// Package event defines the wire vocabulary shared by every service: event
// types, topic names and the envelope that travels over the bus.
package event

import "encoding/json"

// Command event types.
const (
	TypeCheckoutRequested = "CheckoutRequested"
	TypeSubtractStock     = "SubtractStock"
	TypeAddStock          = "AddStock"
	TypeFindItem          = "FindItem"
	TypePay               = "Pay"
	TypeRefund            = "Refund"
)

// Outcome event types.
const (
	TypeStockSubtracted         = "StockSubtracted"
	TypeStockError              = "StockError"
	TypeStockCompensated        = "StockCompensated"
	TypeStockCompensationFailed = "StockCompensationFailed"
	TypeItemFound               = "ItemFound"
	TypeItemNotFound            = "ItemNotFound"
	TypePaymentProcessed        = "PaymentProcessed"
	TypePaymentError            = "PaymentError"
	TypeRefundProcessed         = "RefundProcessed"
	TypeRefundError             = "RefundError"
	TypeCheckoutSuccess         = "CheckoutSuccess"
	TypeCheckoutFailed          = "CheckoutFailed"
)

// Topic names. These are part of the external contract.
const (
	TopicOrderOperations       = "order-operations"
	TopicOrchestratorResponses = "orchestrator-responses"
	TopicStockOperations       = "stock-operations"
	TopicStockResponses        = "stock-responses"
	TopicPaymentOperations     = "payment-operations"
	TopicPaymentResponses      = "payment-responses"
)

// Item is one (item, quantity) pair inside an order or a stock command.
type Item struct {
	ItemID   string `json:"item_id" msgpack:"item_id"`
	Quantity int    `json:"quantity" msgpack:"quantity"`
}

// Event is the envelope published on the bus. Type and CorrelationID are
// mandatory; the remaining fields are populated per event type and echoed
// through outcome events unchanged. Bus payloads are JSON; stored copies
// (idempotency records, response streams) are msgpack.
type Event struct {
	Type          string `json:"type" msgpack:"type"`
	CorrelationID string `json:"correlation_id" msgpack:"correlation_id"`

	OrderID   string `json:"order_id,omitempty" msgpack:"order_id,omitempty"`
	UserID    string `json:"user_id,omitempty" msgpack:"user_id,omitempty"`
	Items     []Item `json:"items,omitempty" msgpack:"items,omitempty"`
	ItemID    string `json:"item_id,omitempty" msgpack:"item_id,omitempty"`
	Quantity  int    `json:"quantity,omitempty" msgpack:"quantity,omitempty"`
	Amount    int    `json:"amount,omitempty" msgpack:"amount,omitempty"`
	Stock     int    `json:"stock,omitempty" msgpack:"stock,omitempty"`
	Price     int    `json:"price,omitempty" msgpack:"price,omitempty"`
	Credit    int    `json:"credit,omitempty" msgpack:"credit,omitempty"`
	TotalCost int    `json:"total_cost,omitempty" msgpack:"total_cost,omitempty"`
	Error     string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Marshal encodes the event for the bus.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses a bus payload.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// IdempotencyKey is the per-command key under which a participant records
// the outcome it produced: "<event_type>:<correlation_id>".
func IdempotencyKey(eventType, correlationID string) string {
	return eventType + ":" + correlationID
}

// ResponseStream names the per-correlation rendezvous stream read by the
// order service's HTTP handlers.
func ResponseStream(correlationID string) string {
	return "order_response:" + correlationID
}
