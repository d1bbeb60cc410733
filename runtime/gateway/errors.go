package gateway

import "errors"

// ErrProviderNotFound indicates a completion referenced a provider id absent
// from the registry.
var ErrProviderNotFound = errors.New("model gateway: provider not found")

// ErrFactoryRequired indicates that a ClientFactory must be supplied.
var ErrFactoryRequired = errors.New("model gateway: client factory is required")
