// Package service exposes the circuit breaker over HTTP.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewCircuitService, NewConfigService)
