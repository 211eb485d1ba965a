package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. REWARDS_VAULT_ENCRYPTION_KEY.
const EnvPrefix = "REWARDS"

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// DSN renders the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	case "sqlite":
		return d.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	}
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type ChainConfig struct {
	RPCURL                    string `mapstructure:"rpc_url"`
	ChainID                   uint64 `mapstructure:"chain_id"`
	ContractAddress           string `mapstructure:"contract_address"`
	ReadTimeout               int    `mapstructure:"read_timeout"`
	ConfirmTimeout            int    `mapstructure:"confirm_timeout"`
	ReceiptPollInterval       int    `mapstructure:"receipt_poll_interval_ms"`
	GasLimit                  uint64 `mapstructure:"gas_limit"`
	GasPriceMultiplierPercent int64  `mapstructure:"gas_price_multiplier_percent"`
}

func (c ChainConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

func (c ChainConfig) ConfirmTimeoutDuration() time.Duration {
	return time.Duration(c.ConfirmTimeout) * time.Second
}

func (c ChainConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.ReceiptPollInterval) * time.Millisecond
}

type VaultConfig struct {
	EncryptionKey     string `mapstructure:"encryption_key"`
	IV                string `mapstructure:"iv"`
	EncryptedAdminKey string `mapstructure:"encrypted_admin_key"`
}

type SettlementConfig struct {
	// FinalRound is the sentinel round number the contract answers with the
	// leaderboard accumulated over every round.
	FinalRound           uint64 `mapstructure:"final_round"`
	SafetyMarginPercent  string `mapstructure:"safety_margin_percent"`
	SafetyMarginMinEth   string `mapstructure:"safety_margin_min_eth"`
	GasReserveEth        string `mapstructure:"gas_reserve_eth"`
	MaxConcurrentPayouts int    `mapstructure:"max_concurrent_payouts"`
	AutoSettleCron       string `mapstructure:"auto_settle_cron"`
	ReadRetries          int    `mapstructure:"read_retries"`
}

func (s SettlementConfig) SafetyMarginPercentValue() decimal.Decimal {
	return parseDecimal(s.SafetyMarginPercent)
}

func (s SettlementConfig) SafetyMarginMinValue() decimal.Decimal {
	return parseDecimal(s.SafetyMarginMinEth)
}

func (s SettlementConfig) GasReserveValue() decimal.Decimal {
	return parseDecimal(s.GasReserveEth)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	LockTTL  int    `mapstructure:"lock_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables always win over it
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "tournament_rewards")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "rewards.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 300)

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.read_timeout", 15)
	v.SetDefault("chain.confirm_timeout", 180)
	v.SetDefault("chain.receipt_poll_interval_ms", 2000)
	v.SetDefault("chain.gas_limit", 120000)
	v.SetDefault("chain.gas_price_multiplier_percent", 110)

	v.SetDefault("vault.encryption_key", "")
	v.SetDefault("vault.iv", "")
	v.SetDefault("vault.encrypted_admin_key", "")

	v.SetDefault("settlement.final_round", 999999)
	v.SetDefault("settlement.safety_margin_percent", "1")
	v.SetDefault("settlement.safety_margin_min_eth", "0")
	v.SetDefault("settlement.gas_reserve_eth", "0.01")
	v.SetDefault("settlement.max_concurrent_payouts", 4)
	v.SetDefault("settlement.auto_settle_cron", "")
	v.SetDefault("settlement.read_retries", 3)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 900)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

// weiDecimals is the number of decimal places one ether splits into.
const weiDecimals = 18

// Validate rejects configurations the settlement engine cannot run with.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("chain.contract_address %q is not a hex address", c.Chain.ContractAddress)
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if c.Vault.EncryptionKey == "" || c.Vault.IV == "" || c.Vault.EncryptedAdminKey == "" {
		return fmt.Errorf("vault.encryption_key, vault.iv and vault.encrypted_admin_key are required")
	}
	if c.Settlement.MaxConcurrentPayouts <= 0 {
		return fmt.Errorf("settlement.max_concurrent_payouts must be positive")
	}
	for name, raw := range map[string]string{
		"settlement.safety_margin_percent": c.Settlement.SafetyMarginPercent,
		"settlement.safety_margin_min_eth": c.Settlement.SafetyMarginMinEth,
		"settlement.gas_reserve_eth":       c.Settlement.GasReserveEth,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%s must be a non-negative decimal, got %q", name, raw)
		}
	}
	for name, raw := range map[string]string{
		"settlement.safety_margin_min_eth": c.Settlement.SafetyMarginMinEth,
		"settlement.gas_reserve_eth":       c.Settlement.GasReserveEth,
	} {
		// ether amounts must convert to wei exactly
		if parseDecimal(raw).Exponent() < -weiDecimals {
			return fmt.Errorf("%s has more than %d decimal places, got %q", name, weiDecimals, raw)
		}
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	return nil
}

func parseDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
