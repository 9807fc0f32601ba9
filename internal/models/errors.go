package models

import "errors"

var (
	ErrConfigurationIncomplete = errors.New("configuration incomplete")
	ErrSourceUnavailable       = errors.New("chat source unavailable")
	ErrStoreFailure            = errors.New("store failure")
	ErrDeliveryFailure         = errors.New("delivery failure")
	ErrMalformedInput          = errors.New("malformed input")
	ErrNotFound                = errors.New("not found")
)
