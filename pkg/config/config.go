package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "MEMO"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Session     SessionConfig     `mapstructure:"session"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	UploadRoot string `mapstructure:"upload_root"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	DataFile string `mapstructure:"data_file"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// DSN is used by the sqlite and mysql drivers.
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Issuer        string        `mapstructure:"issuer"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	ResetPassword string        `mapstructure:"reset_password"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SessionConfig struct {
	Store string `mapstructure:"store"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AttachmentsConfig struct {
	MaxBytes       int64 `mapstructure:"max_bytes"`
	ValidateImages bool  `mapstructure:"validate_images"`
}

type AuditConfig struct {
	File     string         `mapstructure:"file"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type ClassifierConfig struct {
	Provider string `mapstructure:"provider"`
	MaxWords int    `mapstructure:"max_words"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Host == "" {
		return DatabaseConfig{}, fmt.Errorf("missing host in %q", u.Redacted())
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port: %w", err)
		}
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Set default values
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.upload_root", "public/uploads")
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.data_file", "data/store.json")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "memo")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "memo-web")
	v.SetDefault("auth.session_ttl", "168h")
	v.SetDefault("auth.reset_password", "123")
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")
	v.SetDefault("session.store", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("attachments.max_bytes", 10<<20)
	v.SetDefault("attachments.validate_images", true)
	v.SetDefault("audit.file", "activity.log")
	v.SetDefault("audit.telegram.token", "")
	v.SetDefault("audit.telegram.chat_id", 0)
	v.SetDefault("classifier.provider", "none")
	v.SetDefault("classifier.max_words", 6)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 60)
	v.SetDefault("openai.temperature", 0.3)

	// Enable environment variable support: MEMO_AUTH_JWT_SECRET -> auth.jwt_secret
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the YAML file at path (optional when empty) on top of the
// defaults and environment.
func LoadConfig(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if err := v.BindEnv("database_url", "DATABASE_URL"); err != nil {
		return nil, err
	}
	if dbURL := v.GetString("database_url"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.DSN = config.Database.DSN
		config.Database = dbConfig
		if config.Storage.Driver == "memory" {
			config.Storage.Driver = "postgres"
		}
	}

	// Get other environment variables
	if err := v.BindEnv("openai_api_key", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	if apiKey := v.GetString("openai_api_key"); apiKey != "" && config.OpenAI.APIKey == "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}

// Watch re-reads the file at path whenever it changes and hands the new
// configuration to fn. Decode errors are passed to onErr and the previous
// configuration stays in effect.
func Watch(path string, fn func(*Config), onErr func(error)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}
