package config

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "PAYSTREAM_DB_DSN"
	EnvDBHost = "PAYSTREAM_DB_HOST"
	EnvDBUser = "PAYSTREAM_DB_USER"
	EnvDBName = "PAYSTREAM_DB_NAME"

	LedgerModeREST     = "rest"
	LedgerModePostgres = "postgres"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Chain        ChainConfig
	Ledger       LedgerConfig
	Keeper       KeeperConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	mode := c.Ledger.Mode()
	switch mode {
	case LedgerModeREST:
		if strings.TrimSpace(c.Ledger.BaseURL) == "" {
			return fmt.Errorf("PAYSTREAM_LEDGER_BASE_URL is required in rest mode")
		}
	case LedgerModePostgres:
		if err := c.DB.ensureDSN(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("ledger mode must be %q or %q, got %q", LedgerModeREST, LedgerModePostgres, mode)
	}
	if _, err := c.Keeper.MinOperatorBalance(); err != nil {
		return err
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYSTREAM_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYSTREAM_APP_PORT" default:"9090"`
	LogLevel     string `envconfig:"PAYSTREAM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYSTREAM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PAYSTREAM_DB_DSN"`
	Driver string `envconfig:"PAYSTREAM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYSTREAM_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYSTREAM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYSTREAM_DB_USER"`
	LegacyPassword string `envconfig:"PAYSTREAM_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYSTREAM_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYSTREAM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYSTREAM_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"PAYSTREAM_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"PAYSTREAM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYSTREAM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYSTREAM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYSTREAM_REDIS_ADDR"`
	Password     string        `envconfig:"PAYSTREAM_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYSTREAM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYSTREAM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYSTREAM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYSTREAM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYSTREAM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYSTREAM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type ChainConfig struct {
	RPCURL              string        `envconfig:"PAYSTREAM_CHAIN_RPC_URL" required:"true"`
	ChainID             int64         `envconfig:"PAYSTREAM_CHAIN_ID" required:"true"`
	OperatorPrivateKey  string        `envconfig:"PAYSTREAM_CHAIN_OPERATOR_KEY" required:"true"`
	CallTimeout         time.Duration `envconfig:"PAYSTREAM_CHAIN_CALL_TIMEOUT" default:"20s"`
	ConfirmTimeout      time.Duration `envconfig:"PAYSTREAM_CHAIN_CONFIRM_TIMEOUT" default:"90s"`
	ReceiptPollInterval time.Duration `envconfig:"PAYSTREAM_CHAIN_RECEIPT_POLL_INTERVAL" default:"2s"`
	GasLimitCeiling     uint64        `envconfig:"PAYSTREAM_CHAIN_GAS_LIMIT_CEILING" default:"0"`
}

type LedgerConfig struct {
	ModeRaw        string        `envconfig:"PAYSTREAM_LEDGER_MODE" default:"rest"`
	BaseURL        string        `envconfig:"PAYSTREAM_LEDGER_BASE_URL"`
	ServiceKey     string        `envconfig:"PAYSTREAM_LEDGER_SERVICE_KEY"`
	RequestTimeout time.Duration `envconfig:"PAYSTREAM_LEDGER_REQUEST_TIMEOUT" default:"15s"`
}

// Mode returns the normalized ledger backend mode.
func (l LedgerConfig) Mode() string {
	return strings.ToLower(strings.TrimSpace(l.ModeRaw))
}

type KeeperConfig struct {
	TickInterval          time.Duration `envconfig:"PAYSTREAM_KEEPER_TICK_INTERVAL" default:"45s"`
	HealthInterval        time.Duration `envconfig:"PAYSTREAM_KEEPER_HEALTH_INTERVAL" default:"5m"`
	StandardFeeBps        int64         `envconfig:"PAYSTREAM_KEEPER_STANDARD_FEE_BPS" default:"179"`
	ProFeeBps             int64         `envconfig:"PAYSTREAM_KEEPER_PRO_FEE_BPS" default:"100"`
	MinOperatorBalanceWei string        `envconfig:"PAYSTREAM_KEEPER_MIN_OPERATOR_BALANCE_WEI" default:"0"`
}

// MinOperatorBalance parses the configured wei floor for the health check.
func (k KeeperConfig) MinOperatorBalance() (*big.Int, error) {
	raw := strings.TrimSpace(k.MinOperatorBalanceWei)
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid PAYSTREAM_KEEPER_MIN_OPERATOR_BALANCE_WEI %q", raw)
	}
	return value, nil
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PAYSTREAM_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
