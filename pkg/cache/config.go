package cache

import "time"

type RedisOption func(*RedisConfig)

type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string // namespaces every key, joined with ":"
}

func WithRedisHost(host string) RedisOption     { return func(c *RedisConfig) { c.Host = host } }
func WithRedisPort(port int) RedisOption        { return func(c *RedisConfig) { c.Port = port } }
func WithRedisPassword(pw string) RedisOption   { return func(c *RedisConfig) { c.Password = pw } }
func WithRedisDB(db int) RedisOption            { return func(c *RedisConfig) { c.DB = db } }
func WithRedisPrefix(prefix string) RedisOption { return func(c *RedisConfig) { c.Prefix = prefix } }

func WithRedisPool(size, minIdle int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = size
		c.MinIdleConns = minIdle
		c.PoolTimeout = timeout
	}
}

type MemoryOption func(*MemoryConfig)

type MemoryConfig struct {
	MaxSize         int           // entries before LRU eviction
	DefaultTTL      time.Duration // used when Set gets ttl <= 0
	CleanupInterval time.Duration // 0 disables the janitor
}

func WithMemoryMaxSize(n int) MemoryOption { return func(c *MemoryConfig) { c.MaxSize = n } }

func WithMemoryDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.DefaultTTL = ttl }
}

func WithMemoryCleanup(every time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = every }
}

type LayeredOption func(*LayeredConfig)

// LayeredConfig sizes the in-process tier. LocalTTL bounds how stale one
// instance can be after another instance writes to Redis.
type LayeredConfig struct {
	MemoryMaxSize int
	LocalTTL      time.Duration
}

func WithLayeredMemorySize(n int) LayeredOption {
	return func(c *LayeredConfig) { c.MemoryMaxSize = n }
}

func WithLayeredLocalTTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) { c.LocalTTL = ttl }
}
