package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Groups   GroupsConfig   `yaml:"groups" mapstructure:"groups"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PostgresConfig tunes the pgx connection pool.
type PostgresConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig controls how parsed owner records are keyed and attributed.
type IngestConfig struct {
	Country           string   `yaml:"country" mapstructure:"country"`
	Source            string   `yaml:"source" mapstructure:"source"`
	CompanyURL        string   `yaml:"company_url" mapstructure:"company_url"`
	DomesticCountries []string `yaml:"domestic_countries" mapstructure:"domestic_countries"`
}

// GroupsConfig holds the control policy used by group detection.
type GroupsConfig struct {
	FounderRoles     []string `yaml:"founder_roles" mapstructure:"founder_roles"`
	FounderThreshold float64  `yaml:"founder_threshold" mapstructure:"founder_threshold"`
}

// ServerConfig configures the reporting API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	GroupsRate     float64  `yaml:"groups_rate" mapstructure:"groups_rate"`
	GroupsBurst    int      `yaml:"groups_burst" mapstructure:"groups_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FINGROUPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ownership.db")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.groups_rate", 2.0)
	v.SetDefault("server.groups_burst", 4)
	v.SetDefault("ingest.country", "UA")
	v.SetDefault("ingest.source", "opendatabot")
	v.SetDefault("ingest.company_url", "https://opendatabot.ua/c/%s")
	v.SetDefault("ingest.domestic_countries", []string{"Україна", "Ukraine", "UA"})
	v.SetDefault("groups.founder_roles", []string{"Founder", "Засновник"})
	v.SetDefault("groups.founder_threshold", 50.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "migrate", "ingest", "query", and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "migrate", "query":
	case "ingest":
		if c.Ingest.Country == "" {
			errs = append(errs, "ingest.country is required")
		}
		if c.Ingest.Source == "" {
			errs = append(errs, "ingest.source is required")
		}
		if strings.Count(c.Ingest.CompanyURL, "%s") != 1 {
			errs = append(errs, "ingest.company_url must contain exactly one %s")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.GroupsRate < 0 {
			errs = append(errs, "server.groups_rate must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Groups.FounderThreshold < 0 || c.Groups.FounderThreshold > 100 {
		errs = append(errs, "groups.founder_threshold must be between 0 and 100")
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns && c.Postgres.MaxConns > 0 {
		errs = append(errs, "postgres.min_conns must not exceed postgres.max_conns")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
