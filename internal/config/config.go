package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Relational  DatabaseConfig    `mapstructure:"relational"`
	ClickHouse  DatabaseConfig    `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Sheets      SheetsConfig      `mapstructure:"sheets"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Activity    ActivityConfig    `mapstructure:"activity"`
	Log         LogConfig         `mapstructure:"log"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // relational only: mysql | sqlite3
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type SheetsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Mode          string        `mapstructure:"mode"` // remote | workbook
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	TimeoutMs     int           `mapstructure:"timeout_ms"`
	WorkbookPath  string        `mapstructure:"workbook_path"`
	CustomersTab  string        `mapstructure:"customers_tab"`
	PaymentsTab   string        `mapstructure:"payments_tab"`
	LogTab        string        `mapstructure:"log_tab"`
	IDStrategy    string        `mapstructure:"id_strategy"`   // rowcount | redis
	LockStrategy  string        `mapstructure:"lock_strategy"` // local | redis
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	ServeEndpoint string        `mapstructure:"serve_endpoint"` // mount the endpoint emulator at this path
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type CoordinatorConfig struct {
	Primary  string        `mapstructure:"primary"` // sheets | relational
	Fallback bool          `mapstructure:"fallback"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
}

type AuthConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Issuer     string        `mapstructure:"issuer"`
	TTL        time.Duration `mapstructure:"ttl"`
	CookieName string        `mapstructure:"cookie_name"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type ActivityConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json | console
}

// Load reads embedded defaults, merges user YAML (if provided), loads .env
// and applies env overrides (CRM_*, e.g. CRM_SHEETS_URL).
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
