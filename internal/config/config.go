package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig holds the promocode store's configuration surface.
type StoreConfig struct {
	Enabled        bool
	FilePath       string
	ArchiveDir     string
	CacheWindow    time.Duration
	LockTimeout    time.Duration
	ArchiveEnabled bool
	SeedCodes      []string
	CleanInterval  time.Duration
}

// ServiceConfig holds all configuration for the promostore service.
type ServiceConfig struct {
	Port      string
	AppEnv    string
	JWTSecret string
	Store     StoreConfig
}

// Load reads configuration from PROMOSTORE_-prefixed environment variables,
// optionally merged over a TOML file named by PROMOSTORE_CONFIG_FILE.
func Load() (*ServiceConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("PROMOSTORE")
	v.AutomaticEnv()

	v.SetDefault("PORT", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("STORE_ENABLED", true)
	v.SetDefault("STORE_FILE_PATH", "json/promocodes.json")
	v.SetDefault("STORE_CACHE_WINDOW", "300s")
	v.SetDefault("STORE_LOCK_TIMEOUT", "5s")
	v.SetDefault("STORE_ARCHIVE_ENABLED", true)
	v.SetDefault("STORE_SEED_CODES", []string{"WELCOMETONATIONDEX", "WELCOMETOPLEASUREDOME"})
	v.SetDefault("STORE_CLEAN_INTERVAL", "0s")

	if cfgFile := v.GetString("CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("toml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}

	secret := v.GetString("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("PROMOSTORE_JWT_SECRET is required")
	}

	filePath := v.GetString("STORE_FILE_PATH")
	archiveDir := v.GetString("STORE_ARCHIVE_DIR")
	if archiveDir == "" {
		archiveDir = filepath.Join(filepath.Dir(filePath), "archived_promocodes")
	}

	return &ServiceConfig{
		Port:      v.GetString("PORT"),
		AppEnv:    v.GetString("APP_ENV"),
		JWTSecret: secret,
		Store: StoreConfig{
			Enabled:        v.GetBool("STORE_ENABLED"),
			FilePath:       filePath,
			ArchiveDir:     archiveDir,
			CacheWindow:    v.GetDuration("STORE_CACHE_WINDOW"),
			LockTimeout:    v.GetDuration("STORE_LOCK_TIMEOUT"),
			ArchiveEnabled: v.GetBool("STORE_ARCHIVE_ENABLED"),
			SeedCodes:      v.GetStringSlice("STORE_SEED_CODES"),
			CleanInterval:  v.GetDuration("STORE_CLEAN_INTERVAL"),
		},
	}, nil
}
