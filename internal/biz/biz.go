// Package biz contains business logic layer implementations.
// This layer holds the queue circuit breaker rules and its maintenance tasks.
package biz

import (
	"Gateleen/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewTaskLocker,
	NewRuleCircuitMapping,
	NewConfigManager,
	NewQueueCircuitBreakerUsecase,
	NewRuleReloader,
	NewPrometheusRegistry,
	NewMetricsCollector,
	NewMaintenanceTasks,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(Lock), new(*data.RedisLock)),
	wire.Bind(new(CircuitRepo), new(*data.CircuitStorage)),
	wire.Bind(new(QueueLocker), new(*data.RedisQueueLocker)),
	wire.Bind(new(ConfigRepo), new(*data.ConfigStorage)),
	wire.Bind(new(RuleSource), new(*data.FileRuleSource)),
)
