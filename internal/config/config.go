package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/labtrend/labtrend/internal/platform/db"
	"github.com/labtrend/labtrend/internal/platform/labdate"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	LogLevel        string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema        string   `mapstructure:"DB_SCHEMA"`
	MigrationsDir   string   `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey  string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer      string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL     string   `mapstructure:"AUTH_JWKS_URL"`
	MaxUpload       string   `mapstructure:"MAX_UPLOAD"`
	StartDate       string   `mapstructure:"START_DATE"`
	CycleLengthDays int      `mapstructure:"CYCLE_LENGTH_DAYS"`
	VocabularyFile  string   `mapstructure:"VOCABULARY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "MIGRATIONS_DIR",
	"CORS_ORIGINS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"MAX_UPLOAD",
	"START_DATE", "CYCLE_LENGTH_DAYS", "VOCABULARY_FILE",
}

// Load reads configuration from the environment, falling back to a .env
// file in the working directory.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an
// error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 5)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("MAX_UPLOAD", "10M")
	v.SetDefault("CYCLE_LENGTH_DAYS", 0)

	// Unmarshal only sees keys viper knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether API requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != "" || c.AuthJWKSURL != ""
}

// Level returns the zerolog level named by LOG_LEVEL.
func (c *Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := db.ValidateSchema(c.DBSchema); err != nil {
		return fmt.Errorf("DB_SCHEMA: %w", err)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max >= 1", c.DBMinConns, c.DBMaxConns)
	}
	if c.CycleLengthDays < 0 {
		return fmt.Errorf("CYCLE_LENGTH_DAYS must not be negative, got %d", c.CycleLengthDays)
	}
	if c.StartDate != "" {
		if !labdate.IsCanonical(labdate.Normalize(c.StartDate)) {
			return fmt.Errorf("START_DATE %q is not a date", c.StartDate)
		}
		if c.CycleLengthDays == 0 {
			return fmt.Errorf("CYCLE_LENGTH_DAYS is required when START_DATE is set")
		}
	}
	if c.IsProduction() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL is required in production")
	}
	return nil
}

// RequireDatabase is called by commands that need the store.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// NormalizedStartDate returns START_DATE as YYYY-MM-DD, or "".
func (c *Config) NormalizedStartDate() string {
	if c.StartDate == "" {
		return ""
	}
	return labdate.Normalize(c.StartDate)
}
