package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	API         APIConfig         `yaml:"api"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	Wallet      WalletConfig      `yaml:"wallet"`
	KMS         KMSConfig         `yaml:"kms"`
	Payments    PaymentsConfig    `yaml:"payments"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// APIConfig remote marketplace API configuration
type APIConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	Timeout   int    `yaml:"timeout"` // seconds, 0 = no client timeout
	UserAgent string `yaml:"userAgent"`
}

// CredentialsConfig credential store configuration
type CredentialsConfig struct {
	Driver     string `yaml:"driver"` // memory | file | postgres | redis
	File       string `yaml:"file"`
	Passphrase string `yaml:"passphrase"`
	KeyPrefix  string `yaml:"keyPrefix"`
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"` // pgx (default) | pq
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Timeout  int    `yaml:"timeout"`
}

// NATSConfig NATS payment event publishing configuration
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// WalletConfig wallet capability configuration
type WalletConfig struct {
	Enabled        bool                     `yaml:"enabled"`
	Network        string                   `yaml:"network"` // key into Networks
	WaitForReceipt bool                     `yaml:"waitForReceipt"`
	ReceiptTimeout int                      `yaml:"receiptTimeout"` // seconds
	Networks       map[string]NetworkConfig `yaml:"networks"`
	NetworksFile   string                   `yaml:"networksFile"` // extra entries for the network registry
}

// NetworkConfig Network configuration
type NetworkConfig struct {
	ChainID      int      `yaml:"chainId"`
	Name         string   `yaml:"name"`
	RPCEndpoints []string `yaml:"rpcEndpoints"`

	KMSKeyAlias   string `yaml:"kmsKeyAlias"`
	KMSEnabled    bool   `yaml:"kmsEnabled"`
	KMSAddress    string `yaml:"kmsAddress"`    // address controlled by the KMS key
	PrivateKey    string `yaml:"privateKey"`    // hex, with or without 0x
	UsePrivateKey bool   `yaml:"usePrivateKey"` // prefer PrivateKey even when KMS is enabled

	GasPrice     string `yaml:"gasPrice"`     // wei; "" or "auto" = suggested +20%; "oracle" = gas tracker
	GasOracleURL string `yaml:"gasOracleUrl"` // Etherscan-compatible gasoracle endpoint
	GasLimit     uint64 `yaml:"gasLimit"`
	Enabled      bool   `yaml:"enabled"`
}

// KMSConfig KMS signing service configuration
type KMSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ServiceURL string `yaml:"serviceUrl"`
	AuthToken  string `yaml:"authToken"`
	Timeout    int    `yaml:"timeout"`
}

// PaymentsConfig payment confirmation policy
type PaymentsConfig struct {
	ConfirmMode    string `yaml:"confirmMode"`    // prompt | auto | totp | deny
	AutoApproveMax string `yaml:"autoApproveMax"` // decimal, native currency
	TOTPSecret     string `yaml:"totpSecret"`
	ConfirmTimeout int    `yaml:"confirmTimeout"` // seconds, websocket confirmations
}

// ServerConfig local UI bridge configuration
type ServerConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	AllowedIPs []string `yaml:"allowedIPs"`
	Token      string   `yaml:"token"` // optional; required on every bridge request when set

	AllowedOrigins   []string `yaml:"allowedOrigins"` // CORS; empty = no cross-origin access
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// LogConfig logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

var AppConfig *Config

// LoadConfig Load configuration file
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			logrus.Infof("🔧 Using local configuration file: config.local.yaml")
		}
	}

	cfg := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		logrus.WithField("path", configPath).Info("✅ Loading configuration from config file")
	case os.IsNotExist(err):
		logrus.WithField("path", configPath).Warn("⚠️ Config file not found, using defaults and environment")
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	overrideFromEnv(cfg)
	cfg.applyDefaults()

	logrus.WithFields(logrus.Fields{
		"api":          cfg.API.BaseURL,
		"credentials":  cfg.Credentials.Driver,
		"wallet":       cfg.Wallet.Enabled,
		"confirm_mode": cfg.Payments.ConfirmMode,
		"nats":         cfg.NATS.Enabled,
	}).Debug("📋 [Config] configuration loaded")

	AppConfig = cfg
	return cfg, nil
}

// Default returns a configuration usable without a config file
func Default() *Config {
	// receipts are awaited unless the file says otherwise; the marketplace verifies mined transactions only
	cfg := &Config{Wallet: WalletConfig{WaitForReceipt: true}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000/api"
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.UserAgent == "" {
		c.API.UserAgent = "emcp-client/1.0"
	}
	if c.Credentials.Driver == "" {
		c.Credentials.Driver = "file"
	}
	if c.Credentials.File == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Credentials.File = home + "/.emcp/credentials"
		} else {
			c.Credentials.File = ".emcp-credentials"
		}
	}
	if c.Credentials.KeyPrefix == "" {
		c.Credentials.KeyPrefix = "emcp:"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgx"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "emcp"
	}
	if c.Wallet.ReceiptTimeout == 0 {
		c.Wallet.ReceiptTimeout = 120
	}
	if c.Payments.ConfirmMode == "" {
		c.Payments.ConfirmMode = "prompt"
	}
	if c.Payments.ConfirmTimeout == 0 {
		c.Payments.ConfirmTimeout = 120
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8787
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// overrideFromEnv Override configuration from environment
func overrideFromEnv(config *Config) {
	if baseURL := os.Getenv("EMCP_API_BASE_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}
	if timeout := os.Getenv("EMCP_API_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			config.API.Timeout = t
		}
	}

	// Credential store
	if driver := os.Getenv("CREDENTIALS_DRIVER"); driver != "" {
		config.Credentials.Driver = driver
	}
	if file := os.Getenv("CREDENTIALS_FILE"); file != "" {
		config.Credentials.File = file
	}
	if passphrase := os.Getenv("CREDENTIALS_PASSPHRASE"); passphrase != "" {
		config.Credentials.Passphrase = passphrase
	}

	// Database
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	// Redis
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		config.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			config.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.Redis.Password = redisPassword
	}

	// NATS
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
		config.NATS.Enabled = true
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	// KMS
	if kmsEnabled := os.Getenv("KMS_ENABLED"); kmsEnabled != "" {
		config.KMS.Enabled = kmsEnabled == "true"
	}
	if kmsServiceURL := os.Getenv("KMS_SERVICE_URL"); kmsServiceURL != "" {
		config.KMS.ServiceURL = kmsServiceURL
	}
	if kmsAuthToken := os.Getenv("KMS_AUTH_TOKEN"); kmsAuthToken != "" {
		config.KMS.AuthToken = kmsAuthToken
	}
	if kmsTimeout := os.Getenv("KMS_TIMEOUT"); kmsTimeout != "" {
		if t, err := strconv.Atoi(kmsTimeout); err == nil {
			config.KMS.Timeout = t
		}
	}

	// Wallet networks
	if network := os.Getenv("WALLET_NETWORK"); network != "" {
		config.Wallet.Network = network
	}
	if wait := os.Getenv("WALLET_WAIT_FOR_RECEIPT"); wait != "" {
		if b, err := strconv.ParseBool(wait); err == nil {
			config.Wallet.WaitForReceipt = b
		}
	}
	for networkName, networkConfig := range config.Wallet.Networks {
		prefix := strings.ToUpper(networkName)

		if kmsKeyAlias := os.Getenv(prefix + "_KMS_KEY_ALIAS"); kmsKeyAlias != "" {
			networkConfig.KMSKeyAlias = kmsKeyAlias
		}

		// Network-specific key first, then the generic PRIVATE_KEY
		if !networkConfig.KMSEnabled || networkConfig.UsePrivateKey {
			if privateKey := os.Getenv(prefix + "_PRIVATE_KEY"); privateKey != "" {
				networkConfig.PrivateKey = privateKey
				logrus.Infof("✅ [Config] Loaded private key for network '%s' from environment variable: %s_PRIVATE_KEY", networkName, prefix)
			} else if privateKey := os.Getenv("PRIVATE_KEY"); privateKey != "" {
				networkConfig.PrivateKey = privateKey
				logrus.Infof("✅ [Config] Loaded private key for network '%s' from environment variable: PRIVATE_KEY", networkName)
			}
		}

		if rpcEndpoints := os.Getenv(prefix + "_RPC_ENDPOINTS"); rpcEndpoints != "" {
			networkConfig.RPCEndpoints = splitAndTrim(rpcEndpoints)
		}
		if gasPrice := os.Getenv(prefix + "_GAS_PRICE"); gasPrice != "" {
			networkConfig.GasPrice = gasPrice
		}
		if oracle := os.Getenv(prefix + "_GAS_ORACLE_URL"); oracle != "" {
			networkConfig.GasOracleURL = oracle
		}
		if gasLimit := os.Getenv(prefix + "_GAS_LIMIT"); gasLimit != "" {
			if limit, err := strconv.ParseUint(gasLimit, 10, 64); err == nil {
				networkConfig.GasLimit = limit
			}
		}

		config.Wallet.Networks[networkName] = networkConfig
	}

	// Payments
	if mode := os.Getenv("PAYMENT_CONFIRM_MODE"); mode != "" {
		config.Payments.ConfirmMode = mode
	}
	if max := os.Getenv("PAYMENT_AUTO_APPROVE_MAX"); max != "" {
		config.Payments.AutoApproveMax = max
	}
	if secret := os.Getenv("PAYMENT_TOTP_SECRET"); secret != "" {
		config.Payments.TOTPSecret = secret
	}

	// Server
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if token := os.Getenv("SERVER_TOKEN"); token != "" {
		config.Server.Token = token
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitAndTrim(origins)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetNetworkConfig GetNetworkconfiguration
func (c *Config) GetNetworkConfig(networkName string) (*NetworkConfig, error) {
	if networkName == "" {
		networkName = c.Wallet.Network
	}
	network, exists := c.Wallet.Networks[networkName]
	if !exists {
		return nil, fmt.Errorf("network %s not found in config", networkName)
	}

	if !network.Enabled {
		return nil, fmt.Errorf("network %s is disabled", networkName)
	}

	if network.Name == "" {
		network.Name = networkName
	}
	return &network, nil
}

// ConfigureLogging applies the log section to the standard logrus logger
func (c *Config) ConfigureLogging(logger *logrus.Logger) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		logger.Warnf("⚠️ Unknown log level %q, using info", c.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
