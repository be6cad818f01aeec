package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/your-org/consolegrid/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. CONSOLE_GRAPHQL_ENDPOINT
const EnvPrefix = "CONSOLE"

var (
	instance *Config
	mu       sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	GraphQL       GraphQLConfig       `mapstructure:"graphql"`
	Grids         GridsConfig         `mapstructure:"grids"`
	StateStore    StateStoreConfig    `mapstructure:"state_store"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Concurrency   ConcurrencyConfig   `mapstructure:"concurrency"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Log           LogConfig           `mapstructure:"log"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host" validate:"required"`
	Port           int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"gte=0"` // requests per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst" validate:"min=1"`
}

// GraphQLConfig describes the platform API
type GraphQLConfig struct {
	Endpoint     string        `mapstructure:"endpoint" validate:"required,url"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryCount   int           `mapstructure:"retry_count" validate:"min=0,max=10"`
	RetryWait    time.Duration `mapstructure:"retry_wait" validate:"gte=0"`
	RetryMaxWait time.Duration `mapstructure:"retry_max_wait" validate:"gtefield=RetryWait"`
	Debug        bool          `mapstructure:"debug"`
}

// GridsConfig holds grid defaults
type GridsConfig struct {
	DefaultPageSize int           `mapstructure:"default_page_size" validate:"min=1"`
	MaxPageSize     int           `mapstructure:"max_page_size" validate:"gtefield=DefaultPageSize"`
	ThreadsPageSize int           `mapstructure:"threads_page_size" validate:"min=1"`
	DefaultSort     string        `mapstructure:"default_sort" validate:"required"` // "field dir[, field dir]"
	RefreshTimeout  time.Duration `mapstructure:"refresh_timeout" validate:"gt=0"`
	SessionIdle     time.Duration `mapstructure:"session_idle" validate:"gt=0"` // после простоя адаптеры сессии освобождаются
}

// StateStoreConfig contains Reindexer configuration for saved grid state
type StateStoreConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DSN            string `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Namespace      string `mapstructure:"namespace" validate:"required_if=Enabled true"`
	MaxConnections int    `mapstructure:"max_connections" validate:"min=1"`
}

// CacheConfig contains cache configuration
type CacheConfig struct {
	Shards int           `mapstructure:"shards" validate:"min=1"`
	TTL    time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// ConcurrencyConfig contains concurrency settings
type ConcurrencyConfig struct {
	HTTPMaxWorkers   int `mapstructure:"http_max_workers" validate:"min=1"`
	ProjectorWorkers int `mapstructure:"projector_workers" validate:"min=1"`
	MaxConcurrentOps int `mapstructure:"max_concurrent_ops" validate:"min=1"`
}

// NotificationsConfig sizes the notification feed
type NotificationsConfig struct {
	Capacity int `mapstructure:"capacity" validate:"min=1"`
}

// LogConfig configures zap
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// Get returns the loaded configuration, or defaults if Load was never called
func Get() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	cfg, err := build(newViper())
	if err != nil {
		// defaults are valid, this only happens after a bad env override
		return &Config{}
	}
	return cfg
}

// Load reads configuration from an optional YAML file and CONSOLE_* environment variables
func Load(configPath string) error {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := build(v)
	if err != nil {
		return err
	}

	mu.Lock()
	instance = cfg
	mu.Unlock()
	return nil
}

// Reload rereads the configuration; the previous one stays active on error
func Reload(configPath string) error {
	return Load(configPath)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key; AutomaticEnv only overrides keys viper knows
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 45*time.Second)
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)

	// GraphQL API
	v.SetDefault("graphql.endpoint", "http://localhost:8081/graphql")
	v.SetDefault("graphql.token", "")
	v.SetDefault("graphql.timeout", 30*time.Second)
	v.SetDefault("graphql.retry_count", 2)
	v.SetDefault("graphql.retry_wait", 200*time.Millisecond)
	v.SetDefault("graphql.retry_max_wait", 2*time.Second)
	v.SetDefault("graphql.debug", false)

	// Grids
	v.SetDefault("grids.default_page_size", 10)
	v.SetDefault("grids.max_page_size", 100)
	v.SetDefault("grids.threads_page_size", 5)
	v.SetDefault("grids.default_sort", "updatedAt desc")
	v.SetDefault("grids.refresh_timeout", 30*time.Second)
	v.SetDefault("grids.session_idle", 30*time.Minute)

	// Reindexer: cproto протокол (требует CGO), RPC/TCP порт 6534
	v.SetDefault("state_store.enabled", false)
	v.SetDefault("state_store.dsn", "cproto://localhost:6534/consolegrid")
	v.SetDefault("state_store.namespace", "grid_states")
	v.SetDefault("state_store.max_connections", 4)

	// Cache
	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.ttl", 15*time.Minute)

	// Concurrency
	v.SetDefault("concurrency.http_max_workers", 100)
	v.SetDefault("concurrency.projector_workers", 4)
	v.SetDefault("concurrency.max_concurrent_ops", 10)

	v.SetDefault("notifications.capacity", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate runs the struct tag rules and reports every failing key
func validate(cfg *Config) error {
	err := structValidator.Struct(cfg)
	if err == nil {
		_, err = ParseSort(cfg.Grids.DefaultSort)
		return err
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ParseSort reads "field dir, field dir" into sort orders
func ParseSort(s string) ([]domain.SortOrder, error) {
	var orders []domain.SortOrder
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 0:
			continue
		case 1:
			orders = append(orders, domain.SortOrder{Field: fields[0], Direction: domain.DirectionAsc})
		case 2:
			dir := strings.ToLower(fields[1])
			if dir != string(domain.DirectionAsc) && dir != string(domain.DirectionDesc) {
				return nil, fmt.Errorf("sort %q: direction must be asc or desc", part)
			}
			orders = append(orders, domain.SortOrder{Field: fields[0], Direction: domain.Direction(dir)})
		default:
			return nil, fmt.Errorf("sort %q: expected \"field dir\"", part)
		}
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("sort %q is empty", s)
	}
	return orders, nil
}

// Sort returns the parsed grid default sort
func (g GridsConfig) Sort() []domain.SortOrder {
	orders, err := ParseSort(g.DefaultSort)
	if err != nil {
		return domain.FallbackSort
	}
	return orders
}
