package domain

import "errors"

// User is the stored credit account, msgpack-encoded under its user id.
type User struct {
	Credit int `msgpack:"credit" json:"credit"`
}

var (
	// ErrNotFound means the user key is absent from the store.
	ErrNotFound = errors.New("USER NOT FOUND")
	// ErrInsufficientCredit means a payment would drive credit below zero.
	ErrInsufficientCredit = errors.New("INSUFFICIENT FUNDS")
)

// OutcomeFunc encodes the outcome event once the resulting credit is known,
// so the store can commit the record atomically with the credit update.
type OutcomeFunc func(credit int) ([]byte, error)
