package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment" validate:"required"`
	Version        string               `mapstructure:"version"`
	LogLevel       string               `mapstructure:"log_level"`
	Debug          bool                 `mapstructure:"debug"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Solana         SolanaConfig         `mapstructure:"solana"`
	Treasury       TreasuryConfig       `mapstructure:"treasury"`
	Oracle         OracleConfig         `mapstructure:"oracle"`
	Settlement     SettlementConfig     `mapstructure:"settlement"`
	Store          StoreConfig          `mapstructure:"store"`
	Workers        WorkerConfig         `mapstructure:"workers"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Secrets        SecretsConfig        `mapstructure:"secrets"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port" validate:"min=1,max=65535"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// Addr returns host:port for redis clients
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SolanaConfig contains chain RPC and transaction settings
type SolanaConfig struct {
	RPCURL           string        `mapstructure:"rpc_url" validate:"required,url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ComputeUnitLimit uint32        `mapstructure:"compute_unit_limit" validate:"gt=0"`
	ComputeUnitPrice uint64        `mapstructure:"compute_unit_price"`
	FinalizeTimeout  time.Duration `mapstructure:"finalize_timeout"`
	ReadRetries      int           `mapstructure:"read_retries"`
}

// TreasuryConfig identifies the treasury accounts and signing key
type TreasuryConfig struct {
	StablecoinMint    string `mapstructure:"stablecoin_mint" validate:"required"`
	StablecoinAccount string `mapstructure:"stablecoin_account" validate:"required"`
	IndexMint         string `mapstructure:"index_mint" validate:"required"`
	Owner             string `mapstructure:"owner" validate:"required"`
	KeySecretName     string `mapstructure:"key_secret_name" validate:"required"`
}

// OracleConfig contains price feed settings
type OracleConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	FeedIDs         []string      `mapstructure:"feed_ids" validate:"required,min=1,dive,required"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerSec int           `mapstructure:"rate_limit_per_sec"`
}

// SettlementConfig contains webhook ingress behaviour
type SettlementConfig struct {
	WebhookToken   string        `mapstructure:"webhook_token"`
	FastMode       bool          `mapstructure:"fast_mode"`
	DebounceWindow time.Duration `mapstructure:"debounce_window" validate:"gt=0"`
	DebounceStore  string        `mapstructure:"debounce_store" validate:"oneof=memory redis"`
}

// StoreConfig selects the settlement record backend
type StoreConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=memory badger postgres"`
	BadgerDir string `mapstructure:"badger_dir"`
}

// WorkerConfig contains background payout worker configuration
type WorkerConfig struct {
	Dispatcher string        `mapstructure:"dispatcher" validate:"oneof=pool asynq"`
	Count      int           `mapstructure:"count" validate:"gt=0"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// ReconciliationConfig contains the pending settlement sweeper configuration
type ReconciliationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Schedule       string        `mapstructure:"schedule"`
	Threshold      time.Duration `mapstructure:"threshold"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// SecretsConfig selects where the treasury key is read from
type SecretsConfig struct {
	Provider  string        `mapstructure:"provider" validate:"oneof=env aws"`
	AWSRegion string        `mapstructure:"aws_region"`
	Prefix    string        `mapstructure:"prefix"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := overrideFromEnv(v); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" && config.Database.Host != "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if config.Debug {
		config.LogLevel = "debug"
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 300)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "settlement_service")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.request_timeout", 20*time.Second)
	v.SetDefault("solana.compute_unit_limit", 200_000)
	v.SetDefault("solana.compute_unit_price", 10_000)
	v.SetDefault("solana.finalize_timeout", 90*time.Second)
	v.SetDefault("solana.read_retries", 3)

	v.SetDefault("treasury.key_secret_name", "TREASURY_PRIVATE_KEY")

	v.SetDefault("oracle.base_url", "https://hermes.pyth.network")
	v.SetDefault("oracle.feed_ids", []string{
		"0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43", // BTC/USD
		"0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace", // ETH/USD
		"0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d", // SOL/USD
		"0x2f95862b045670cd22bee3114c39763a4a08beeb663b145d283c31d7d1101c4f", // BNB/USD
		"0xec5d399846a9209f3fe5881d70aae9268c94339ff9817e8d18ff19fa05eea1c8", // XRP/USD
	})
	v.SetDefault("oracle.cache_ttl", 45*time.Second)
	v.SetDefault("oracle.timeout", 10*time.Second)
	v.SetDefault("oracle.rate_limit_per_sec", 5)

	v.SetDefault("settlement.fast_mode", false)
	v.SetDefault("settlement.debounce_window", 5*time.Second)
	v.SetDefault("settlement.debounce_store", "memory")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.badger_dir", "./data/settlements")

	v.SetDefault("workers.dispatcher", "pool")
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.job_timeout", 2*time.Minute)

	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.schedule", "@every 1m")
	v.SetDefault("reconciliation.threshold", 2*time.Minute)
	v.SetDefault("reconciliation.batch_size", 50)
	v.SetDefault("reconciliation.max_concurrency", 4)

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.cache_ttl", 5*time.Minute)

	v.SetDefault("version", "1.0.0")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "settlement-service")
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.insecure", false)
}

func overrideFromEnv(v *viper.Viper) error {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		v.Set("redis.host", redisHost)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}

	if rpcURL := os.Getenv("SOLANA_RPC_URL"); rpcURL != "" {
		v.Set("solana.rpc_url", rpcURL)
	}

	if mint := os.Getenv("USDC_MINT"); mint != "" {
		v.Set("treasury.stablecoin_mint", mint)
	}
	if account := os.Getenv("TREASURY_USDC_ACCOUNT"); account != "" {
		v.Set("treasury.stablecoin_account", account)
	}
	if mint := os.Getenv("CAP5_MINT"); mint != "" {
		v.Set("treasury.index_mint", mint)
	}
	if owner := os.Getenv("TREASURY_OWNER"); owner != "" {
		v.Set("treasury.owner", owner)
	}

	if token := os.Getenv("HELIUS_WEBHOOK_TOKEN"); token != "" {
		v.Set("settlement.webhook_token", token)
	}
	if fast := os.Getenv("FAST_MODE"); fast != "" {
		v.Set("settlement.fast_mode", parseBool(fast))
	}
	if debug := os.Getenv("DEBUG"); debug != "" {
		v.Set("debug", parseBool(debug))
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		v.Set("tracing.collector_url", endpoint)
		v.Set("tracing.enabled", true)
	}
	if insecure := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); insecure != "" {
		v.Set("tracing.insecure", parseBool(insecure))
	}
	if version := os.Getenv("APP_VERSION"); version != "" {
		v.Set("version", version)
	}

	if ids := os.Getenv("PYTH_PRICE_IDS"); ids != "" {
		var feedIDs []string
		if err := json.Unmarshal([]byte(ids), &feedIDs); err != nil {
			return fmt.Errorf("PYTH_PRICE_IDS must be a JSON array of strings: %w", err)
		}
		v.Set("oracle.feed_ids", feedIDs)
	}

	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks struct constraints and settlement-critical addresses
func Validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	addresses := map[string]string{
		"treasury.stablecoin_mint":    config.Treasury.StablecoinMint,
		"treasury.stablecoin_account": config.Treasury.StablecoinAccount,
		"treasury.index_mint":         config.Treasury.IndexMint,
		"treasury.owner":              config.Treasury.Owner,
	}
	for field, value := range addresses {
		if _, err := solana.PublicKeyFromBase58(value); err != nil {
			return fmt.Errorf("%s is not a valid address: %w", field, err)
		}
	}

	if config.Store.Driver == "postgres" && config.Database.URL == "" {
		return fmt.Errorf("database configuration is required for the postgres store")
	}
	if config.Store.Driver == "badger" && config.Store.BadgerDir == "" {
		return fmt.Errorf("store.badger_dir is required for the badger store")
	}
	if config.Secrets.Provider == "aws" && config.Secrets.AWSRegion == "" {
		return fmt.Errorf("secrets.aws_region is required for the aws provider")
	}
	if config.Reconciliation.Enabled && config.Reconciliation.Schedule == "" {
		return fmt.Errorf("reconciliation.schedule is required when reconciliation is enabled")
	}

	return nil
}
