package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Config wraps viper and provides typed accessors.
type Config struct {
	v *viper.Viper
}

// Load reads a config file (INI or any viper-supported format) and
// prepares defaults. Environment variables with the MUSICVAULT prefix
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MUSICVAULT")
	v.AutomaticEnv()

	setDefaults(v)

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		if err := loadINI(v, path); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return &Config{v: v}, nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &Config{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CacheDir", "./cache")
	v.SetDefault("Database", "cache.db")
	v.SetDefault("DBMaxOpenConns", 1)
	v.SetDefault("DBMaxIdleConns", 1)
	v.SetDefault("DBConnMaxLifetimeSec", 3600)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "text")
	v.SetDefault("LogSource", false)
	v.SetDefault("GormLogLevel", "warn")
	v.SetDefault("KeepFiles", false)
	v.SetDefault("SweepIntervalMin", 60)
	v.SetDefault("MaxCacheAgeHours", 72)
	v.SetDefault("WorkerPoolSize", 4)
	v.SetDefault("RemoteEnabled", false)
	v.SetDefault("RemoteHost", "")
	v.SetDefault("RemotePort", 22)
	v.SetDefault("RemoteUser", "")
	v.SetDefault("RemotePassword", "")
	v.SetDefault("RemoteKeyFile", "")
	v.SetDefault("RemoteRoot", "musicvault")
	v.SetDefault("RemoteMaxRetries", 5)
	v.SetDefault("RemoteRetryDelaySec", 5)
	v.SetDefault("UploadsPerSecond", 0.0)
	v.SetDefault("ExtractorPath", "")
	v.SetDefault("ExtractorTimeoutSec", 90)
	v.SetDefault("ExtractorAudioFormat", "opus")
	v.SetDefault("ExtractorRemote", false)
	v.SetDefault("ExtractorRemoteTmp", "/tmp/musicvault")
	v.SetDefault("DownloadTimeout", 120)
	v.SetDefault("DownloadMaxRetries", 3)
	v.SetDefault("CheckMD5", true)
}

// GetString returns a string value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 returns a float64 value.
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool returns a bool value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func loadINI(v *viper.Viper, path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}
	for _, key := range cfg.Section("").Keys() {
		v.Set(key.Name(), key.Value())
	}
	return nil
}
