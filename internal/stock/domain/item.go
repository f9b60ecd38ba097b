package domain

import "errors"

// Item is the stored stock entity, msgpack-encoded under its item id.
type Item struct {
	Stock int `msgpack:"stock" json:"stock"`
	Price int `msgpack:"price" json:"price"`
}

var (
	// ErrNotFound means the item key is absent from the store.
	ErrNotFound = errors.New("item not found")
	// ErrInsufficientStock means a subtraction would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)
