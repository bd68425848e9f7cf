package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Watch   WatchConfig   `yaml:"watch"`
	Health  HealthConfig  `yaml:"health"`
	Project ProjectConfig `yaml:"project"`
}

type ServerConfig struct {
	Port        int           `yaml:"port"`
	Host        string        `yaml:"host"`
	Engine      string        `yaml:"engine"`       // "deno" or "builtin"
	DenoBinary  string        `yaml:"deno_binary"`  // resolved via PATH when bare
	GracePeriod time.Duration `yaml:"grace_period"` // SIGTERM-to-SIGKILL window
	AutoPort    bool          `yaml:"auto_port"`    // probe upward when port is bound
}

type WatchConfig struct {
	Debounce   time.Duration `yaml:"debounce"`
	Extensions []string      `yaml:"extensions"`
}

type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type ProjectConfig struct {
	Markers  []string `yaml:"markers"`
	MaxDepth int      `yaml:"max_depth"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8000,
			Host:        "127.0.0.1",
			Engine:      "deno",
			DenoBinary:  "deno",
			GracePeriod: 500 * time.Millisecond,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
			Extensions: []string{
				".html", ".htm", ".css", ".js", ".mjs", ".ts", ".jsx", ".tsx",
				".json", ".svg", ".png", ".jpg", ".jpeg", ".gif", ".webp",
			},
		},
		Health: HealthConfig{
			Interval: 10 * time.Second,
		},
		Project: ProjectConfig{
			Markers:  []string{"package.json", "deno.json", "deno.jsonc", ".git"},
			MaxDepth: 10,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes zero values back to defaults and rejects settings the
// orchestrator cannot work with. The health interval and the debounce window
// are independent knobs; an interval shorter than the debounce window is
// suspicious but allowed, so it only gets a log line.
func (c *Config) Validate() error {
	def := Default()

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Server.Engine {
	case "deno", "builtin":
	case "":
		c.Server.Engine = def.Server.Engine
	default:
		return fmt.Errorf("server.engine %q: must be \"deno\" or \"builtin\"", c.Server.Engine)
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.DenoBinary == "" {
		c.Server.DenoBinary = def.Server.DenoBinary
	}
	if c.Server.GracePeriod <= 0 {
		c.Server.GracePeriod = def.Server.GracePeriod
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = def.Watch.Debounce
	}
	if len(c.Watch.Extensions) == 0 {
		c.Watch.Extensions = def.Watch.Extensions
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = def.Health.Interval
	}
	if len(c.Project.Markers) == 0 {
		c.Project.Markers = def.Project.Markers
	}
	if c.Project.MaxDepth <= 0 {
		c.Project.MaxDepth = def.Project.MaxDepth
	}

	if c.Health.Interval < c.Watch.Debounce {
		log.Printf("config: health.interval %s is shorter than watch.debounce %s", c.Health.Interval, c.Watch.Debounce)
	}

	return nil
}
