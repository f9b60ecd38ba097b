package domain

import (
	"errors"

	"storefront/internal/event"
)

// Order is the stored order entity, msgpack-encoded under its order id.
// Paid flips to true exactly once, on successful checkout.
type Order struct {
	Paid      bool         `msgpack:"paid" json:"paid"`
	Items     []event.Item `msgpack:"items" json:"items"`
	UserID    string       `msgpack:"user_id" json:"user_id"`
	TotalCost int          `msgpack:"total_cost" json:"total_cost"`
}

// AddItem merges the quantity into an existing line for the same item or
// appends a new one, and grows the total by quantity*price.
func (o *Order) AddItem(itemID string, quantity, price int) {
	o.TotalCost += quantity * price
	for i, it := range o.Items {
		if it.ItemID == itemID {
			o.Items[i].Quantity += quantity
			return
		}
	}
	o.Items = append(o.Items, event.Item{ItemID: itemID, Quantity: quantity})
}

// MutateFunc applies an outcome event to the order and returns the event as
// it should be recorded and handed to the waiting HTTP request.
type MutateFunc func(o *Order) (event.Event, error)

var (
	// ErrNotFound means the order key is absent from the store.
	ErrNotFound = errors.New("order not found")
	// ErrResponseTimeout means no outcome arrived on the response stream
	// within the bridge timeout.
	ErrResponseTimeout = errors.New("timed out waiting for response")
)
