package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	DefaultConfigFile   = "warden.hcl"
	DefaultPort         = 8787
	DefaultAppPort      = 3000
	DefaultFrontendPort = 5173
	DatabaseFileName    = "warden.db"
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete warden configuration
type Configuration struct {
	ConfigPath string        // File the configuration was loaded from (empty when using defaults)
	Port       int           // Port of the control API
	AppPort    int           // Port of the supervised backend
	AppURL     string        // URL shown on the dashboard
	Dashboard  string        // Path to the dashboard HTML asset
	DataDir    string        // Directory for the event database
	Verbose    int           // Verbosity level
	Backend    ProcessConfig // The primary supervised process
	Frontend   ProcessConfig // The secondary supervised process
	Restart    RestartConfig
	Logs       LogsConfig
	Commands   CommandsConfig
	Counter    CounterConfig
}

// ProcessConfig describes how to spawn one supervised child
type ProcessConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

// RestartConfig controls the crash restart policy
type RestartConfig struct {
	Delay         time.Duration // First delay after a crash
	RestartDelay  time.Duration // Delay between stop and start on a manual restart
	MaxDelay      time.Duration // Cap for the exponential backoff
	Factor        float64       // Backoff multiplier per consecutive failure
	MaxFailures   int           // Consecutive failures before giving up (0 = never give up)
	FailureWindow time.Duration // A run this long, or this long without a failure, ends the failure streak
	StopTimeout   time.Duration // Grace period between SIGTERM and SIGKILL
}

// LogsConfig controls the session log directory
type LogsConfig struct {
	Dir           string
	BufferSize    int
	Retention     time.Duration
	SweepSchedule string // cron spec for the retention sweep
}

// CommandsConfig describes the pull and build commands used by the control API
type CommandsConfig struct {
	ProjectDir string
	Pull       []string
	Build      []string
	Timeout    time.Duration // 0 means no timeout
}

// CounterConfig describes the external item counter
type CounterConfig struct {
	Command  []string
	Interval time.Duration
}

// HCL parsing structs

type hclConfig struct {
	Port      int          `hcl:"port,optional"`
	AppPort   int          `hcl:"app_port,optional"`
	AppURL    string       `hcl:"app_url,optional"`
	Dashboard string       `hcl:"dashboard,optional"`
	DataDir   string       `hcl:"data_dir,optional"`
	Verbose   int          `hcl:"verbose,optional"`
	Backend   *hclProcess  `hcl:"backend,block"`
	Frontend  *hclProcess  `hcl:"frontend,block"`
	Restart   *hclRestart  `hcl:"restart,block"`
	Logs      *hclLogs     `hcl:"logs,block"`
	Commands  *hclCommands `hcl:"commands,block"`
	Counter   *hclCounter  `hcl:"counter,block"`
}

type hclProcess struct {
	Command string            `hcl:"command"`
	Args    []string          `hcl:"args,optional"`
	Dir     string            `hcl:"dir,optional"`
	Env     map[string]string `hcl:"env,optional"`
}

type hclRestart struct {
	Delay         string  `hcl:"delay,optional"`
	RestartDelay  string  `hcl:"restart_delay,optional"`
	MaxDelay      string  `hcl:"max_delay,optional"`
	Factor        float64 `hcl:"factor,optional"`
	MaxFailures   *int    `hcl:"max_failures,optional"`
	FailureWindow string  `hcl:"failure_window,optional"`
	StopTimeout   string  `hcl:"stop_timeout,optional"`
}

type hclLogs struct {
	Dir           string `hcl:"dir,optional"`
	BufferSize    int    `hcl:"buffer_size,optional"`
	Retention     string `hcl:"retention,optional"`
	SweepSchedule string `hcl:"sweep_schedule,optional"`
}

type hclCommands struct {
	ProjectDir string   `hcl:"project_dir,optional"`
	Pull       []string `hcl:"pull,optional"`
	Build      []string `hcl:"build,optional"`
	Timeout    string   `hcl:"timeout,optional"`
}

type hclCounter struct {
	Command  []string `hcl:"command,optional"`
	Interval string   `hcl:"interval,optional"`
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Port:      DefaultPort,
		AppPort:   DefaultAppPort,
		AppURL:    fmt.Sprintf("http://localhost:%d", DefaultAppPort),
		Dashboard: "dashboard.html",
		DataDir:   ".warden",
		Backend: ProcessConfig{
			Command: "npm",
			Args:    []string{"run", "server"},
		},
		Frontend: ProcessConfig{
			Command: "npm",
			Args:    []string{"run", "dev"},
		},
		Restart: RestartConfig{
			Delay:         3 * time.Second,
			RestartDelay:  1 * time.Second,
			MaxDelay:      time.Minute,
			Factor:        2,
			MaxFailures:   10,
			FailureWindow: 5 * time.Minute,
			StopTimeout:   5 * time.Second,
		},
		Logs: LogsConfig{
			Dir:           "logs",
			BufferSize:    2000,
			Retention:     90 * 24 * time.Hour,
			SweepSchedule: "@daily",
		},
		Commands: CommandsConfig{
			ProjectDir: ".",
			Pull:       []string{"git", "pull"},
			Build:      []string{"npm", "run", "build"},
		},
		Counter: CounterConfig{
			Interval: 30 * time.Second,
		},
	}
}

// LoadConfig loads the HCL configuration file and returns a Configuration struct.
// Values missing from the file keep their defaults.
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	if err := hclsimple.DecodeFile(filename, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.ConfigPath = filename

	if hclCfg.Port != 0 {
		cfg.Port = hclCfg.Port
	}
	if hclCfg.AppPort != 0 {
		cfg.AppPort = hclCfg.AppPort
		cfg.AppURL = fmt.Sprintf("http://localhost:%d", cfg.AppPort)
	}
	if hclCfg.AppURL != "" {
		cfg.AppURL = hclCfg.AppURL
	}
	if hclCfg.Dashboard != "" {
		cfg.Dashboard = hclCfg.Dashboard
	}
	if hclCfg.DataDir != "" {
		cfg.DataDir = hclCfg.DataDir
	}
	cfg.Verbose = hclCfg.Verbose

	if hclCfg.Backend != nil {
		cfg.Backend = convertProcess(hclCfg.Backend)
	}
	if hclCfg.Frontend != nil {
		cfg.Frontend = convertProcess(hclCfg.Frontend)
	}

	if r := hclCfg.Restart; r != nil {
		var err error
		if cfg.Restart.Delay, err = parseDuration("restart.delay", r.Delay, cfg.Restart.Delay); err != nil {
			return nil, err
		}
		if cfg.Restart.RestartDelay, err = parseDuration("restart.restart_delay", r.RestartDelay, cfg.Restart.RestartDelay); err != nil {
			return nil, err
		}
		if cfg.Restart.MaxDelay, err = parseDuration("restart.max_delay", r.MaxDelay, cfg.Restart.MaxDelay); err != nil {
			return nil, err
		}
		if cfg.Restart.FailureWindow, err = parseDuration("restart.failure_window", r.FailureWindow, cfg.Restart.FailureWindow); err != nil {
			return nil, err
		}
		if cfg.Restart.StopTimeout, err = parseDuration("restart.stop_timeout", r.StopTimeout, cfg.Restart.StopTimeout); err != nil {
			return nil, err
		}
		if r.Factor != 0 {
			if r.Factor < 1 {
				return nil, fmt.Errorf("restart.factor must be >= 1, got %v", r.Factor)
			}
			cfg.Restart.Factor = r.Factor
		}
		if r.MaxFailures != nil {
			if *r.MaxFailures < 0 {
				return nil, fmt.Errorf("restart.max_failures must be >= 0, got %d", *r.MaxFailures)
			}
			cfg.Restart.MaxFailures = *r.MaxFailures
		}
	}

	if l := hclCfg.Logs; l != nil {
		if l.Dir != "" {
			cfg.Logs.Dir = l.Dir
		}
		if l.BufferSize != 0 {
			if l.BufferSize < 0 {
				return nil, fmt.Errorf("logs.buffer_size must be positive, got %d", l.BufferSize)
			}
			cfg.Logs.BufferSize = l.BufferSize
		}
		if l.SweepSchedule != "" {
			cfg.Logs.SweepSchedule = l.SweepSchedule
		}
		var err error
		if cfg.Logs.Retention, err = parseDuration("logs.retention", l.Retention, cfg.Logs.Retention); err != nil {
			return nil, err
		}
	}

	if c := hclCfg.Commands; c != nil {
		if c.ProjectDir != "" {
			cfg.Commands.ProjectDir = c.ProjectDir
		}
		if len(c.Pull) > 0 {
			cfg.Commands.Pull = c.Pull
		}
		if len(c.Build) > 0 {
			cfg.Commands.Build = c.Build
		}
		var err error
		if cfg.Commands.Timeout, err = parseDuration("commands.timeout", c.Timeout, 0); err != nil {
			return nil, err
		}
	}

	if c := hclCfg.Counter; c != nil {
		cfg.Counter.Command = c.Command
		var err error
		if cfg.Counter.Interval, err = parseDuration("counter.interval", c.Interval, cfg.Counter.Interval); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func convertProcess(p *hclProcess) ProcessConfig {
	env := p.Env
	if env == nil {
		env = make(map[string]string)
	}
	return ProcessConfig{
		Command: p.Command,
		Args:    p.Args,
		Dir:     p.Dir,
		Env:     env,
	}
}

// parseDuration parses value, returning fallback when value is empty
func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, value)
	}
	return d, nil
}

// ApplyEnvironment overrides configuration values from the environment.
// WARDEN_PORT selects the control API port and APP_PORT the backend port.
func (c *Configuration) ApplyEnvironment() error {
	if v := os.Getenv("WARDEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid WARDEN_PORT %q", v)
		}
		c.Port = port
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid APP_PORT %q", v)
		}
		c.AppPort = port
		c.AppURL = fmt.Sprintf("http://localhost:%d", port)
	}
	if v := os.Getenv("WARDEN_LOG_DIR"); v != "" {
		c.Logs.Dir = v
	}
	if v := os.Getenv("WARDEN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	return nil
}

// DatabasePath returns the location of the event database
func (c *Configuration) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFileName)
}

// InitializeConfig loads the configuration file at path if it exists, falls back
// to defaults otherwise, applies environment overrides and stores the result in Config.
// The returned messages describe what was loaded.
func InitializeConfig(path string) ([]string, error) {
	var messages []string

	var cfg *Configuration
	if ConfigExists(path) {
		loaded, err := LoadConfig(path)
		if err != nil {
			return messages, err
		}
		cfg = loaded
	} else {
		cfg = GetDefaultConfig()
		messages = append(messages, fmt.Sprintf("No config file at %s, using defaults", path))
	}

	if err := cfg.ApplyEnvironment(); err != nil {
		return messages, err
	}

	Config = cfg
	return messages, nil
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}
