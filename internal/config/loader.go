package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rpattn/herdtrack/internal/db"
)

// Config is the process configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Blobs     BlobConfig      `mapstructure:"blobs"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// StoreConfig selects the document and mirror backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory postgres"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Migrate  bool   `mapstructure:"migrate"`
	Enabled  bool   `mapstructure:"-"`
}

// BlobConfig controls where CSV artifacts are written. An empty Dir keeps
// them in memory.
type BlobConfig struct {
	Dir           string        `mapstructure:"dir"`
	BaseURL       string        `mapstructure:"base_url" validate:"required_with=Dir"`
	SigningSecret string        `mapstructure:"signing_secret"`
	URLTTL        time.Duration `mapstructure:"url_ttl" validate:"gte=0"`
}

type IngestionConfig struct {
	BatchSize              int   `mapstructure:"batch_size" validate:"gt=0"`
	SampleLimit            int   `mapstructure:"sample_limit" validate:"gte=0"`
	PreviewRows            int   `mapstructure:"preview_rows" validate:"gt=0"`
	DisplayLimit           int   `mapstructure:"display_limit" validate:"gt=0"`
	ChunkSize              int   `mapstructure:"chunk_size" validate:"gt=0"`
	Workers                int   `mapstructure:"workers" validate:"gte=0"`
	ClassifierCacheSize    int   `mapstructure:"classifier_cache_size" validate:"gt=0"`
	DefaultIntervalMinutes int   `mapstructure:"default_interval_minutes" validate:"gt=0"`
	Mirror                 bool  `mapstructure:"mirror"`
	MaxUploadBytes         int64 `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// DB converts the database section into connection settings.
func (c DatabaseConfig) DB() db.Config {
	return db.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		DBName:   c.DBName,
		SSLMode:  c.SSLMode,
	}
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.migrate", true)
	v.SetDefault("blobs.dir", "")
	v.SetDefault("blobs.base_url", "http://localhost:8080/blobs")
	v.SetDefault("blobs.signing_secret", "")
	v.SetDefault("blobs.url_ttl", time.Duration(0))
	v.SetDefault("ingestion.batch_size", 100)
	v.SetDefault("ingestion.sample_limit", 100)
	v.SetDefault("ingestion.preview_rows", 5)
	v.SetDefault("ingestion.display_limit", 10)
	v.SetDefault("ingestion.chunk_size", 1000)
	v.SetDefault("ingestion.workers", 0)
	v.SetDefault("ingestion.classifier_cache_size", 32)
	v.SetDefault("ingestion.default_interval_minutes", 60)
	v.SetDefault("ingestion.mirror", false)
	v.SetDefault("ingestion.max_upload_bytes", int64(32<<20))
}

// Load reads config.yaml from configPath when present, then applies
// HERDTRACK_* environment overrides, e.g. HERDTRACK_DATABASE_HOST.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("HERDTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}
	cfg.Database.Enabled = cfg.Store.Backend == "postgres"

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}
