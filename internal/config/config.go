package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EngineConfig selects and tunes the process launcher.
type EngineConfig struct {
	// Launcher is "exec" (local binary) or "docker" (engine image).
	Launcher string `mapstructure:"launcher"`
	// Path is the engine binary used by the exec launcher.
	Path string `mapstructure:"path"`
	// Image is the engine image used by the docker launcher.
	Image                string        `mapstructure:"image"`
	ContainerCPULimit    int64         `mapstructure:"container_cpu_limit"`
	ContainerMemoryLimit int64         `mapstructure:"container_memory_limit"`
	TerminateGrace       time.Duration `mapstructure:"terminate_grace"`
}

// OrchestratorConfig bounds the scheduler.
type OrchestratorConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	StallTimeout      time.Duration `mapstructure:"stall_timeout"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	LogBufferCapacity int           `mapstructure:"log_buffer_capacity"`
	ArchiveRetention  int           `mapstructure:"archive_retention"`
}

type Config struct {
	ServerPort     string             `mapstructure:"server_port"`
	JWTSecret      string             `mapstructure:"jwt_secret"`
	AllowedOrigins []string           `mapstructure:"allowed_origins"`
	Engine         EngineConfig       `mapstructure:"engine"`
	Orchestrator   OrchestratorConfig `mapstructure:"orchestrator"`
}

// Load reads configuration from a YAML file (./config.yaml or
// ./config/config.yaml), with SNOWMIGRATE_* environment overrides. A missing
// file falls back to defaults so a bare binary still starts.
func Load() (*Config, error) {
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("snowmigrate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_port", "8080")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("engine.launcher", "exec")
	v.SetDefault("engine.path", "/usr/local/bin/migrate-tool")
	v.SetDefault("engine.terminate_grace", 5*time.Second)
	v.SetDefault("orchestrator.max_concurrent", 10)
	v.SetDefault("orchestrator.stall_timeout", 10*time.Minute)
	v.SetDefault("orchestrator.launch_timeout", 30*time.Second)
	v.SetDefault("orchestrator.poll_interval", time.Second)
	v.SetDefault("orchestrator.log_buffer_capacity", 500)
	v.SetDefault("orchestrator.archive_retention", 100)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	switch cfg.Engine.Launcher {
	case "exec", "docker":
	default:
		return nil, errors.Errorf("unknown engine launcher %q (want exec or docker)", cfg.Engine.Launcher)
	}
	if cfg.Engine.Launcher == "docker" && cfg.Engine.Image == "" {
		return nil, errors.New("engine.image must be set for the docker launcher")
	}
	if cfg.Orchestrator.MaxConcurrent < 1 {
		return nil, errors.New("orchestrator.max_concurrent must be at least 1")
	}

	return &cfg, nil
}
