package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BackendRedis   = "redis"
	BackendBadger  = "badger"
	BackendLevelDB = "leveldb"
	BackendNutsDB  = "nutsdb"

	DefaultHost            = "localhost"
	DefaultPort            = 6379
	DefaultConnectTimeout  = 10 * time.Second
	DefaultShutdownTimeout = 60 * time.Second
	DefaultMetadataHash    = "directory_metadata"
	DefaultDataHash        = "file_data"

	maxDefaultPoolSize = 8
)

type Config struct {
	// Backend hash store implementation: redis, badger, leveldb or nutsdb
	Backend string `mapstructure:"backend"`
	// Path data directory of embedded backends, empty means in-memory where supported
	Path string `mapstructure:"path"`
	// Host redis host
	Host string `mapstructure:"host"`
	// Port redis port
	Port int `mapstructure:"port"`
	// Password redis credential
	Password string `mapstructure:"password"`
	// DB redis logical database
	DB int `mapstructure:"db"`
	// PoolSize maximum number of pooled store connections
	PoolSize int `mapstructure:"pool_size"`
	// ConnectTimeout bounds dialing and waiting for a pooled connection
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MetadataHash name of the hash holding file metadata and locks
	MetadataHash string `mapstructure:"metadata_hash"`
	// DataHash name of the hash holding file blocks
	DataHash string `mapstructure:"data_hash"`
	// DebugMode run in debug mode
	DebugMode bool `mapstructure:"debug"`
	// ShutdownTimeout timeout for shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MountPoint fuse mount point
	MountPoint string `mapstructure:"mount_point"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"backend":          "backend",
	"path":             "path",
	"host":             "host",
	"port":             "port",
	"password":         "password",
	"db":               "db",
	"pool-size":        "pool_size",
	"connect-timeout":  "connect_timeout",
	"metadata-hash":    "metadata_hash",
	"data-hash":        "data_hash",
	"dev":              "debug",
	"shutdown-timeout": "shutdown_timeout",
}

// DefaultPoolSize returns min(number of CPUs, 8)
func DefaultPoolSize() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if n > maxDefaultPoolSize {
		return maxDefaultPoolSize
	}
	return n
}

// Default returns configuration pointing at a local redis
func Default() *Config {
	return &Config{
		Backend:         BackendRedis,
		Host:            DefaultHost,
		Port:            DefaultPort,
		PoolSize:        DefaultPoolSize(),
		ConnectTimeout:  DefaultConnectTimeout,
		MetadataHash:    DefaultMetadataHash,
		DataHash:        DefaultDataHash,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// RegisterFlags adds configuration flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("backend", d.Backend, "Hash store backend (redis, badger, leveldb, nutsdb).")
	fs.String("path", d.Path, "Data directory of embedded backends.")
	fs.String("host", d.Host, "Redis host.")
	fs.Int("port", d.Port, "Redis port.")
	fs.String("password", d.Password, "Redis password.")
	fs.Int("db", d.DB, "Redis database.")
	fs.Int("pool-size", d.PoolSize, "Connection pool size.")
	fs.Duration("connect-timeout", d.ConnectTimeout, "Connect timeout.")
	fs.String("metadata-hash", d.MetadataHash, "Hash name for file metadata.")
	fs.String("data-hash", d.DataHash, "Hash name for file blocks.")
	fs.Bool("dev", d.DebugMode, "Run in development mode.")
	fs.Duration("shutdown-timeout", d.ShutdownTimeout, "Force exit after this timeout on shutdown.")
}

// Load reads configuration from defaults, optional file at path,
// REDISDIR_* environment variables and flags, later sources winning.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	d := Default()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("path", d.Path)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("password", d.Password)
	v.SetDefault("db", d.DB)
	v.SetDefault("pool_size", d.PoolSize)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("metadata_hash", d.MetadataHash)
	v.SetDefault("data_hash", d.DataHash)
	v.SetDefault("debug", d.DebugMode)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("mount_point", d.MountPoint)

	v.SetEnvPrefix("redisdir")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendRedis, BackendBadger, BackendLevelDB, BackendNutsDB:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend == BackendNutsDB && c.Path == "" {
		return fmt.Errorf("backend %s requires path", c.Backend)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", c.PoolSize)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.MetadataHash == "" || c.DataHash == "" {
		return fmt.Errorf("metadata and data hash names must be set")
	}
	if c.MetadataHash == c.DataHash {
		return fmt.Errorf("metadata and data hash must differ, both are %q", c.MetadataHash)
	}
	return nil
}

// Addr returns redis host:port
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
