// Package ops holds deployment configuration for the tickerplant and the
// realtime database processes.
package ops

import (
	"os"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by both processes.
type Config struct {
	Tickerplant TickerplantConfig `yaml:"tickerplant"`
	RDB         RDBConfig         `yaml:"rdb"`
	Log         LogConfig         `yaml:"log"`
}

// TickerplantConfig holds the ingest process settings.
type TickerplantConfig struct {
	ListenAddress string `yaml:"listen_address"`
	// LogDirectory is where the durable per-day update log lives.
	LogDirectory        string        `yaml:"log_directory"`
	QueueSize           int           `yaml:"queue_size"`
	SubscriberQueueSize int           `yaml:"subscriber_queue_size"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
	SyncInterval        time.Duration `yaml:"sync_interval"`
	SegmentMaxBytes     int64         `yaml:"segment_max_bytes"`
}

// RDBConfig holds the realtime database settings.
type RDBConfig struct {
	// TickerplantAddress is the upstream to subscribe to.
	TickerplantAddress string `yaml:"tickerplant_address"`
	// ListenAddress is the subscribe-only downstream port.
	ListenAddress string `yaml:"listen_address"`
	// HDBRootPath is the historical store's root directory.
	HDBRootPath         string        `yaml:"hdb_root_path"`
	SubscriberQueueSize int           `yaml:"subscriber_queue_size"`
	RolloverInterval    time.Duration `yaml:"rollover_interval"`
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
}

// LogConfig holds process logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file, expands environment variables, applies
// defaults, and validates. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, errors.Wrap(err, "parse config yaml")
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Tickerplant.ListenAddress == "" {
		c.Tickerplant.ListenAddress = ":5010"
	}
	if c.Tickerplant.LogDirectory == "" {
		c.Tickerplant.LogDirectory = "tplog"
	}
	if c.Tickerplant.QueueSize <= 0 {
		c.Tickerplant.QueueSize = 8192
	}
	if c.Tickerplant.SubscriberQueueSize <= 0 {
		c.Tickerplant.SubscriberQueueSize = 1024
	}
	if c.Tickerplant.FlushInterval <= 0 {
		c.Tickerplant.FlushInterval = 50 * time.Millisecond
	}
	if c.Tickerplant.SyncInterval <= 0 {
		c.Tickerplant.SyncInterval = time.Second
	}

	if c.RDB.TickerplantAddress == "" {
		c.RDB.TickerplantAddress = "127.0.0.1:5010"
	}
	if c.RDB.ListenAddress == "" {
		c.RDB.ListenAddress = ":5011"
	}
	if c.RDB.HDBRootPath == "" {
		c.RDB.HDBRootPath = "hdb"
	}
	if c.RDB.SubscriberQueueSize <= 0 {
		c.RDB.SubscriberQueueSize = 1024
	}
	if c.RDB.RolloverInterval <= 0 {
		c.RDB.RolloverInterval = 10 * time.Second
	}
	if c.RDB.ReconnectBaseDelay <= 0 {
		c.RDB.ReconnectBaseDelay = time.Second
	}
	if c.RDB.ReconnectMaxDelay <= 0 {
		c.RDB.ReconnectMaxDelay = 30 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Tickerplant.ListenAddress == c.RDB.ListenAddress {
		return errors.New("tickerplant and rdb listen addresses collide")
	}
	if c.RDB.ReconnectMaxDelay < c.RDB.ReconnectBaseDelay {
		return errors.New("reconnect_max_delay below reconnect_base_delay")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
