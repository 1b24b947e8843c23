package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Space    SpaceConfig    `mapstructure:"space"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

type EngineConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type CacheConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxEntries    int           `mapstructure:"max_entries"`
}

type BatchConfig struct {
	BaseSize        int           `mapstructure:"base_size"`
	MinSize         int           `mapstructure:"min_size"`
	MaxSize         int           `mapstructure:"max_size"`
	MemoryThreshold float64       `mapstructure:"memory_threshold"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

type SpaceConfig struct {
	Name          string `mapstructure:"name"`
	PartitionNum  int    `mapstructure:"partition_num"`
	ReplicaFactor int    `mapstructure:"replica_factor"`
	VidType       string `mapstructure:"vid_type"`
}

type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads the configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".codegraph"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("codegraph")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CODEGRAPH")
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("engine.uri", "bolt://localhost:7687")
	viper.SetDefault("cache.default_ttl", "300s")
	viper.SetDefault("cache.sweep_interval", "60s")
	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("batch.base_size", 100)
	viper.SetDefault("batch.min_size", 10)
	viper.SetDefault("batch.max_size", 1000)
	viper.SetDefault("batch.memory_threshold", 0.80)
	viper.SetDefault("batch.max_retries", 3)
	viper.SetDefault("batch.retry_delay", "1s")
	viper.SetDefault("batch.timeout", "30s")
	viper.SetDefault("batch.rate_limit", 50)
	viper.SetDefault("batch.rate_burst", 10)
	viper.SetDefault("space.name", "codegraph")
	viper.SetDefault("space.partition_num", 10)
	viper.SetDefault("space.replica_factor", 1)
	viper.SetDefault("space.vid_type", "FIXED_STRING(256)")
	viper.SetDefault("snapshot.path", "./data/codegraph-snapshot.db")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
