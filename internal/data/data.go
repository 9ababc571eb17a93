// Package data provides data access layer implementations.
// It handles the shared Redis store all breaker instances coordinate through.
package data

import (
	"github.com/google/wire"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewRedisClient,
	NewScriptRegistry,
	NewRedisLock,
	NewCircuitStorage,
	NewConfigStorage,
	NewRedisQueueLocker,
	NewFileRuleSource,
)
