package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMissingCredential = errors.New("provider credential missing")
	ErrConcurrencyLimit  = errors.New("concurrent generation limit reached")
	ErrQueueFull         = errors.New("generation queue full")
	ErrNoResult          = errors.New("no result produced")
	ErrStorage           = errors.New("object storage failure")
)
