// Package config provides YAML configuration support for IxNetwork RFC2544 runs
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnextgen"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/logger"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/poll"
)

// OutputFormat for results
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
)

// EnvPrefix is the prefix of the environment overrides read by ApplyEnv
const EnvPrefix = "IXNET"

// Config represents the full configuration
type Config struct {
	// Traffic generator node, as found in a test context node file
	Node ixnextgen.NodeDescriptor `yaml:"node"`

	// Path of the traffic profile YAML
	TrafficProfile string `yaml:"traffic_profile"`

	// Timing
	Duration time.Duration `yaml:"duration"` // 0 = take it from the profile
	Poll     poll.Options  `yaml:"poll"`

	Logging logger.Config `yaml:"logging"`

	// Output
	OutputFormat OutputFormat `yaml:"output_format"`

	// Web UI
	WebUI WebUIConfig `yaml:"web_ui"`

	// In-memory generator used by --simulate
	Simulator SimulatorConfig `yaml:"simulator"`
}

// WebUIConfig for web interface
type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g., ":8080"
}

// SimulatorConfig shapes the in-memory generator
type SimulatorConfig struct {
	DownPorts       []string `yaml:"down_ports"`       // "chassis;card;port"
	TransitionPolls int      `yaml:"transition_polls"` // state reads per start/stop
}

// DownPortLocations parses DownPorts
func (s SimulatorConfig) DownPortLocations() ([]ixnet.PortLocation, error) {
	locs := make([]ixnet.PortLocation, 0, len(s.DownPorts))
	for _, p := range s.DownPorts {
		loc, err := ixnet.ParsePortLocation(p)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// envOverrides lists the variables read by ApplyEnv, e.g. IXNET_MACHINE
type envOverrides struct {
	Machine   string        `envconfig:"MACHINE"`
	TCLPort   string        `envconfig:"TCL_PORT"`
	Chassis   string        `envconfig:"CHASSIS"`
	Version   string        `envconfig:"VERSION"`
	ResultDir string        `envconfig:"RESULT_DIR"`
	Duration  time.Duration `envconfig:"DURATION"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Duration:     0,
		Poll:         poll.DefaultOptions(),
		OutputFormat: FormatText,

		WebUI: WebUIConfig{
			Enabled: false,
			Address: ":8080",
		},

		Simulator: SimulatorConfig{
			TransitionPolls: 2,
		},
	}
}

// Load reads configuration from a YAML file and applies environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides node and timing settings from IXNET_* variables.
// Unset variables leave the current values alone.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	mgmt := &c.Node.MgmtInterface
	if env.Machine != "" {
		mgmt.IP = env.Machine
	}
	if env.TCLPort != "" {
		mgmt.TGConfig.TCLPort = env.TCLPort
	}
	if env.Chassis != "" {
		mgmt.TGConfig.IxChassis = env.Chassis
	}
	if env.Version != "" {
		mgmt.TGConfig.Version = env.Version
	}
	if env.ResultDir != "" {
		mgmt.TGConfig.DUTResultDir = env.ResultDir
	}
	if env.Duration != 0 {
		c.Duration = env.Duration
	}
	return nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if _, err := ixnextgen.GetConfig(c.Node); err != nil {
		return fmt.Errorf("node: %w", err)
	}

	if c.TrafficProfile == "" {
		return fmt.Errorf("traffic_profile is required")
	}

	if c.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}

	if c.Poll.Interval < 0 || c.Poll.Timeout < 0 {
		return fmt.Errorf("poll interval and timeout must not be negative")
	}
	if c.Poll.Interval > 0 && c.Poll.Timeout > 0 && c.Poll.Interval > c.Poll.Timeout {
		return fmt.Errorf("poll interval %s exceeds timeout %s", c.Poll.Interval, c.Poll.Timeout)
	}

	switch c.OutputFormat {
	case FormatText, FormatJSON, FormatCSV:
	default:
		return fmt.Errorf("invalid output format: %s", c.OutputFormat)
	}

	if c.WebUI.Enabled && c.WebUI.Address == "" {
		return fmt.Errorf("web_ui.address is required when the web UI is enabled")
	}

	if c.Simulator.TransitionPolls < 0 {
		return fmt.Errorf("simulator.transition_polls must not be negative")
	}
	if _, err := c.Simulator.DownPortLocations(); err != nil {
		return fmt.Errorf("simulator.down_ports: %w", err)
	}

	return nil
}
