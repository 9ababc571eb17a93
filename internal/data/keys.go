package data

// Store key namespace of the circuit breaker. Every key the breaker touches
// starts with one of these prefixes.
const (
	lockKeyPrefix    = "gateleen.core-lock:"
	circuitKeyPrefix = "gateleen.queue-circuit-breaker:"

	allCircuitsKey      = circuitKeyPrefix + "all-circuits"
	openCircuitsKey     = circuitKeyPrefix + "open-circuits"
	halfOpenCircuitsKey = circuitKeyPrefix + "half-open-circuits"
	queuesToUnlockKey   = circuitKeyPrefix + "queues-to-unlock"
	configKey           = circuitKeyPrefix + "config"

	// ConfigUpdatedChannel is published after the stored configuration changed
	ConfigUpdatedChannel = "gateleen.queue-circuit-breaker.config-updated"

	// queueLocksKey is the lock hash of the queue engine
	queueLocksKey = "redisques:locks"
)

const (
	infosSuffix   = ":infos"
	successSuffix = ":success"
	failureSuffix = ":failure"
	queuesSuffix  = ":queues"
)

// Hash fields of a circuit's infos key
const (
	fieldState      = "state"
	fieldFailRatio  = "failRatio"
	fieldCircuit    = "circuit"
	fieldMetricName = "metricName"
	fieldOpenedAt   = "openedAt"
)

func getLockKey(name string) string {
	return lockKeyPrefix + name
}

func getCircuitKey(circuitHash, suffix string) string {
	return circuitKeyPrefix + circuitHash + suffix
}
