// Package config loads ojd's on-disk and environment configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// PathsConfig holds the on-disk state layout.
type PathsConfig struct {
	StateDir string `toml:"state_dir"`
}

// ListenerConfig controls the unix-socket listener.
type ListenerConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout"`
	MaxMessageSize int64         `toml:"max_message_size"`
}

// WalConfig controls write-ahead log group commit and checkpointing.
type WalConfig struct {
	FlushInterval   time.Duration `toml:"flush_interval"`
	FlushThreshold  int           `toml:"flush_threshold"`
	CheckpointEvery int           `toml:"checkpoint_every"` // entries processed between snapshots
}

// LifecycleConfig controls daemon startup/reconciliation behavior.
type LifecycleConfig struct {
	HeartbeatInterval    time.Duration `toml:"heartbeat_interval"`
	AgentStopGracePeriod time.Duration `toml:"agent_stop_grace_period"`
	ShutdownTimeout      time.Duration `toml:"shutdown_timeout"`

	// WaitPollInterval is how often a graceful session stop re-checks
	// whether the process has exited.
	WaitPollInterval time.Duration `toml:"wait_poll_interval"`

	// RunWaitMS is the fallback base delay, in milliseconds, for a "wait"
	// recovery action whose step doesn't set wait_ms itself.
	RunWaitMS int `toml:"run_wait_ms"`

	// WatcherPollInterval is the liveness re-check interval armed after
	// every agent spawn and after every liveness tick, used when the log
	// watcher's filesystem events don't fire first.
	WatcherPollInterval time.Duration `toml:"watcher_poll_interval"`
}

// ClientConfig controls the CLI/IPC client's dial and request behavior,
// distinct from ListenerConfig which bounds the daemon's own handling
// of a request it has already accepted.
type ClientConfig struct {
	IPCTimeout          time.Duration `toml:"ipc_timeout"`
	ConnectTimeout      time.Duration `toml:"connect_timeout"`
	ConnectPollInterval time.Duration `toml:"connect_poll_interval"`
}

// Config is the top-level ojd configuration.
type Config struct {
	Version   string          `toml:"version"`
	Namespace string          `toml:"namespace"`
	Paths     PathsConfig     `toml:"paths"`
	Listener  ListenerConfig  `toml:"listener"`
	Wal       WalConfig       `toml:"wal"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Logging   LoggingConfig   `toml:"logging"`
	Client    ClientConfig    `toml:"client"`
}

// Default returns a Config with the daemon's built-in defaults.
func Default() *Config {
	return &Config{
		Version:   "1",
		Namespace: "default",
		Paths: PathsConfig{
			StateDir: ".oj/state",
		},
		Listener: ListenerConfig{
			RequestTimeout: 5 * time.Second,
			MaxMessageSize: 200 * 1024 * 1024,
		},
		Wal: WalConfig{
			FlushInterval:   10 * time.Millisecond,
			FlushThreshold:  100,
			CheckpointEvery: 5000,
		},
		Lifecycle: LifecycleConfig{
			HeartbeatInterval:    30 * time.Second,
			AgentStopGracePeriod: 10 * time.Second,
			ShutdownTimeout:      30 * time.Second,
			WaitPollInterval:     200 * time.Millisecond,
			RunWaitMS:            0,
			WatcherPollInterval:  15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
			File:   ".oj/state/ojd.log",
		},
		Client: ClientConfig{
			IPCTimeout:          5 * time.Second,
			ConnectTimeout:      2 * time.Second,
			ConnectPollInterval: 100 * time.Millisecond,
		},
	}
}

// Load reads a single TOML file, merging it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFromDir applies global then project config over the defaults:
// defaults -> ~/.oj/config.toml -> <dir>/.oj/config.toml -> env vars.
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, ".oj", "config.toml")
		if data, err := os.ReadFile(global); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	project := filepath.Join(dir, ".oj", "config.toml")
	if data, err := os.ReadFile(project); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables on top of file-derived config.
// These take precedence over both global and project config files.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OJ_STATE_DIR"); v != "" {
		cfg.Paths.StateDir = v
	}
	if v := os.Getenv("OJ_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("OJ_TIMEOUT_REQUEST"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Listener.RequestTimeout = d
		}
	}
	if v := os.Getenv("OJ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = LogLevel(v)
	}
	if v := os.Getenv("OJ_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = LogFormat(v)
	}
	if ms, ok := envMillis("OJ_TIMEOUT_IPC_MS"); ok {
		cfg.Client.IPCTimeout = ms
	}
	if ms, ok := envMillis("OJ_TIMEOUT_CONNECT_MS"); ok {
		cfg.Client.ConnectTimeout = ms
	}
	if ms, ok := envMillis("OJ_TIMEOUT_EXIT_MS"); ok {
		cfg.Lifecycle.AgentStopGracePeriod = ms
	}
	if ms, ok := envMillis("OJ_CONNECT_POLL_MS"); ok {
		cfg.Client.ConnectPollInterval = ms
	}
	if ms, ok := envMillis("OJ_WAIT_POLL_MS"); ok {
		cfg.Lifecycle.WaitPollInterval = ms
	}
	if v := os.Getenv("OJ_RUN_WAIT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Lifecycle.RunWaitMS = n
		}
	}
	if ms, ok := envMillis("OJ_WATCHER_POLL_MS"); ok {
		cfg.Lifecycle.WatcherPollInterval = ms
	}
}

// envMillis reads an environment variable holding a plain integer
// millisecond count and returns it as a Duration.
func envMillis(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

// Validate checks invariants that Default and file parsing cannot
// enforce on their own.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}
	if c.Listener.RequestTimeout <= 0 {
		return fmt.Errorf("listener.request_timeout must be positive")
	}
	if c.Wal.FlushThreshold <= 0 {
		return fmt.Errorf("wal.flush_threshold must be positive")
	}
	return nil
}

// StateDir returns the absolute state directory path.
func (c *Config) StateDir(baseDir string) string {
	if filepath.IsAbs(c.Paths.StateDir) {
		return c.Paths.StateDir
	}
	return filepath.Join(baseDir, c.Paths.StateDir)
}

// LogFile returns the absolute log file path.
func (c *Config) LogFile(baseDir string) string {
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(baseDir, c.Logging.File)
}
