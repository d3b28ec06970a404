package provider

import "errors"

var (
	// ErrNoHealthyProvider indicates that no healthy provider is available
	ErrNoHealthyProvider = errors.New("no healthy provider available")

	// ErrNoProviders indicates that the manager has nothing configured
	ErrNoProviders = errors.New("no providers configured")
)
