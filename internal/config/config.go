// Package config loads store settings from a YAML file and SPARSE_
// prefixed environment variables through viper. Embedders that already
// hold a property map use FromProperties instead.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zathomas/sparsemapcontent/internal/errdefs"
)

// EnvPrefix is prepended to every environment variable, SPARSE_DATABASE_URL etc.
const EnvPrefix = "SPARSE"

// Config holds the store configuration.
type Config struct {
	// Database connection string. Empty selects the in-memory client.
	DatabaseURL string `mapstructure:"database_url"`

	// Maximum database connection pool size
	MaxDBConnections int `mapstructure:"max_db_connections"`

	// Enable debug logging
	Debug bool `mapstructure:"debug"`

	// Keyspace and column families rows are addressed by.
	Keyspace                 string `mapstructure:"keyspace"`
	ACLColumnFamily          string `mapstructure:"acl_column_family"`
	AuthorizableColumnFamily string `mapstructure:"authorizable_column_family"`
	ContentColumnFamily      string `mapstructure:"content_column_family"`

	// Shared object cache capacity.
	CacheMaxSize int `mapstructure:"cache_max_size"`

	// Row id digest: SHA1, SHA-256 or BLAKE3.
	RowHashAlgorithm string `mapstructure:"row_hash_algorithm"`

	// Shared secret for trusted login tokens. Empty disables trusted login.
	TrustedTokenSecret string `mapstructure:"trusted_token_secret"`

	// Maximum age of a trusted token.
	TrustedTokenTTL time.Duration `mapstructure:"trusted_token_ttl"`

	// Password given to the admin user when it is first created.
	AdminPassword string `mapstructure:"admin_password"`
}

var defaults = map[string]any{
	"database_url":               "",
	"max_db_connections":         25,
	"debug":                      false,
	"keyspace":                   "n",
	"acl_column_family":          "ac",
	"authorizable_column_family": "au",
	"content_column_family":      "cn",
	"cache_max_size":             100,
	"row_hash_algorithm":         "SHA1",
	"trusted_token_secret":       "",
	"trusted_token_ttl":          "20m",
	"admin_password":             "admin",
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		MaxDBConnections:         25,
		Keyspace:                 "n",
		ACLColumnFamily:          "ac",
		AuthorizableColumnFamily: "au",
		ContentColumnFamily:      "cn",
		CacheMaxSize:             100,
		RowHashAlgorithm:         "SHA1",
		TrustedTokenTTL:          20 * time.Minute,
		AdminPassword:            "admin",
	}
}

// Load reads configuration from the global viper instance. A config file
// must already have been read by the caller; environment variables take
// precedence over it.
func Load() (*Config, error) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	// Explicit Get calls so env-only values are seen; AllSettings alone
	// misses keys that exist nowhere but the environment.
	cfg := &Config{
		DatabaseURL:              viper.GetString("database_url"),
		MaxDBConnections:         viper.GetInt("max_db_connections"),
		Debug:                    viper.GetBool("debug"),
		Keyspace:                 viper.GetString("keyspace"),
		ACLColumnFamily:          viper.GetString("acl_column_family"),
		AuthorizableColumnFamily: viper.GetString("authorizable_column_family"),
		ContentColumnFamily:      viper.GetString("content_column_family"),
		CacheMaxSize:             viper.GetInt("cache_max_size"),
		RowHashAlgorithm:         viper.GetString("row_hash_algorithm"),
		TrustedTokenSecret:       viper.GetString("trusted_token_secret"),
		TrustedTokenTTL:          viper.GetDuration("trusted_token_ttl"),
		AdminPassword:            viper.GetString("admin_password"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be repaired by defaults.
func (c *Config) Validate() error {
	if c.Keyspace == "" {
		return errdefs.Configuration("keyspace is required")
	}
	families := map[string]string{
		"acl_column_family":          c.ACLColumnFamily,
		"authorizable_column_family": c.AuthorizableColumnFamily,
		"content_column_family":      c.ContentColumnFamily,
	}
	seen := make(map[string]string, len(families))
	for key, cf := range families {
		if cf == "" {
			return errdefs.Configuration("%s is required", key)
		}
		if other, dup := seen[cf]; dup {
			return errdefs.Configuration("%s and %s share column family %q", other, key, cf)
		}
		seen[cf] = key
	}
	if c.CacheMaxSize <= 0 {
		return errdefs.Configuration("cache_max_size must be positive, got %d", c.CacheMaxSize)
	}
	if c.MaxDBConnections < 0 {
		return errdefs.Configuration("max_db_connections must not be negative, got %d", c.MaxDBConnections)
	}
	if c.TrustedTokenSecret != "" && c.TrustedTokenTTL <= 0 {
		return errdefs.Configuration("trusted_token_ttl must be positive when trusted login is enabled")
	}
	return nil
}

// UsesMemoryStore reports whether no database is configured.
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == ""
}

func (c *Config) String() string {
	backend := "memory"
	if !c.UsesMemoryStore() {
		backend = "database"
	}
	return fmt.Sprintf("keyspace=%s acl=%s authorizables=%s content=%s backend=%s cache=%d hash=%s",
		c.Keyspace, c.ACLColumnFamily, c.AuthorizableColumnFamily, c.ContentColumnFamily,
		backend, c.CacheMaxSize, c.RowHashAlgorithm)
}
