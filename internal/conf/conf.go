package conf

import "time"

// Bootstrap is the root of the static process configuration.
type Bootstrap struct {
	Server  *Server
	Data    *Data
	Log     *Log
	Breaker *Breaker
}

// Server holds the listener settings of the HTTP surface.
type Server struct {
	HTTP *HTTP
}

// HTTP configures the kratos HTTP server.
type HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds the store connection settings.
type Data struct {
	Redis *Redis
}

// Redis configures the shared key-value store all instances coordinate through.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Breaker holds the process-local circuit breaker settings. The hot-reloadable
// thresholds live in the breaker configuration document, not here.
type Breaker struct {
	// InstanceID identifies this process in lock tokens.
	InstanceID string
	// RulesPath is the routing rules JSON file watched for changes.
	RulesPath string
	// MetricsInterval is the period of the metrics collection task.
	MetricsInterval time.Duration
	// APIPrefix is the path prefix of the control API and REST routes.
	APIPrefix string
	// ScriptLogOutput keeps redis.log lines in the loaded scripts.
	ScriptLogOutput bool
}
