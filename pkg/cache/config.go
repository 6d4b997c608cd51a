package cache

import "time"

// Config controls the workflow read cache.
type Config struct {
	// Enabled turns the cache on. When false no middleware is installed.
	// Entries live in process memory and writes only invalidate the local
	// replica, so behind a load balancer other replicas may serve a stale
	// workflow until TTL elapses. Keep TTL short or disable the cache when
	// running more than one replica.
	Enabled bool `mapstructure:"enabled"`
	// TTL bounds how long a rendered response is served.
	TTL time.Duration `mapstructure:"ttl"`
	// MaxSize is the maximum number of cached responses.
	MaxSize int `mapstructure:"max_size"`
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		TTL:     30 * time.Second,
		MaxSize: 500,
	}
}
