package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chain     ChainConfig     `yaml:"chain"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Submit    SubmitConfig    `yaml:"submit"`
	Session   SessionConfig   `yaml:"session"`
	Auth      AuthConfig      `yaml:"auth"`
	Receipts  ReceiptsConfig  `yaml:"receipts"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// ChainConfig points at the network, the escrow contract and the wallet signer bridge.
type ChainConfig struct {
	Network         string `yaml:"network"`
	ContractAddress string `yaml:"contract_address"`
	SignerURL       string `yaml:"signer_url"`
	AppName         string `yaml:"app_name"`
}

type IndexerConfig struct {
	APIURL            string  `yaml:"api_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// SubmitConfig holds the fee padding and confirmation settings of the submission pipeline.
type SubmitConfig struct {
	GasBuffer                int64 `yaml:"gas_buffer"`
	MinimalNanotezPerGasUnit int64 `yaml:"minimal_nanotez_per_gas_unit"`
	StorageBuffer            int64 `yaml:"storage_buffer"`
	Confirmations            int   `yaml:"confirmations"`
	PollIntervalMs           int   `yaml:"poll_interval_ms"`
	ConfirmTimeoutSeconds    int   `yaml:"confirm_timeout_seconds"`
}

type SessionConfig struct {
	Backend       string `yaml:"backend"` // memory, file, sqlite, redis
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type ReceiptsConfig struct {
	MaxReceipts int         `yaml:"max_receipts"`
	Archive     MinioConfig `yaml:"archive"`
}

type MinioConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type NotifyConfig struct {
	FeedSize       int    `yaml:"feed_size"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Chain.Network == "" {
		c.Chain.Network = "ghostnet"
	}
	if c.Chain.AppName == "" {
		c.Chain.AppName = "escrowdash"
	}
	if c.Indexer.APIURL == "" {
		c.Indexer.APIURL = fmt.Sprintf("https://api.%s.tzkt.io", c.Chain.Network)
	}
	if c.Indexer.TimeoutSeconds == 0 {
		c.Indexer.TimeoutSeconds = 30
	}
	if c.Indexer.RequestsPerSecond == 0 {
		c.Indexer.RequestsPerSecond = 10
	}
	if c.Indexer.Burst == 0 {
		c.Indexer.Burst = 10
	}
	if c.Submit.GasBuffer == 0 {
		c.Submit.GasBuffer = 500
	}
	if c.Submit.MinimalNanotezPerGasUnit == 0 {
		c.Submit.MinimalNanotezPerGasUnit = 100
	}
	if c.Submit.Confirmations == 0 {
		c.Submit.Confirmations = 1
	}
	if c.Submit.PollIntervalMs == 0 {
		c.Submit.PollIntervalMs = 2000
	}
	if c.Submit.ConfirmTimeoutSeconds == 0 {
		c.Submit.ConfirmTimeoutSeconds = 180
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "file"
	}
	if c.Session.Path == "" {
		switch c.Session.Backend {
		case "sqlite":
			c.Session.Path = "session.db"
		default:
			c.Session.Path = "session.json"
		}
	}
	if c.Session.RedisPrefix == "" {
		c.Session.RedisPrefix = "escrowdash:session:"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Receipts.MaxReceipts == 0 {
		c.Receipts.MaxReceipts = 100
	}
	if c.Notify.FeedSize == 0 {
		c.Notify.FeedSize = 50
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "escrowdash"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Chain.ContractAddress == "" {
		return fmt.Errorf("chain.contract_address is required")
	}
	if c.Chain.SignerURL == "" {
		return fmt.Errorf("chain.signer_url is required")
	}
	switch c.Session.Backend {
	case "memory", "file", "sqlite":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	// an operation counts as done at its first confirmation
	if c.Submit.Confirmations != 1 {
		return fmt.Errorf("submit.confirmations must be 1, got %d", c.Submit.Confirmations)
	}
	if c.Submit.ConfirmTimeoutSeconds < 0 {
		return fmt.Errorf("submit.confirm_timeout_seconds must not be negative")
	}
	return nil
}
