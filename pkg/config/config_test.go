package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnextgen"
)

const sampleConfig = `
traffic_profile: /etc/ixnet/ipv4_profile.yaml
duration: 45s
poll:
  interval: 500ms
  timeout: 30s
output_format: json
logging:
  json: true
  verbose: 1
web_ui:
  enabled: true
  address: ":9090"
simulator:
  down_ports: ["1.1.1.1;2;16"]
  transition_polls: 3
node:
  name: trafficgen_1
  role: IxNet
  mgmt-interface:
    ip: 152.16.100.20
    tg-config:
      ixchassis: 1.1.1.1
      tcl_port: 8009
      dut_result_dir: /root/results
      version: 8.01.106.3
  vdu:
    - external-interface:
        - name: xe0
          virtual-interface:
            vpci: "2:15"
        - name: xe1
          virtual-interface:
            vpci: "2:16"
`

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.TrafficProfile = "profile.yaml"
	cfg.Node = ixnextgen.NodeDescriptor{
		Name: "trafficgen_1",
		MgmtInterface: ixnextgen.MgmtInterface{
			IP: "152.16.100.20",
			TGConfig: ixnextgen.TGConfig{
				TCLPort:   "8009",
				IxChassis: "1.1.1.1",
				Version:   "8.01.106.3",
			},
		},
		VDU: []ixnextgen.VDU{{ExternalInterface: []ixnextgen.ExternalInterface{
			{Name: "xe0", VirtualInterface: ixnextgen.VirtualInterface{VPCI: "2:15"}},
			{Name: "xe1", VirtualInterface: ixnextgen.VirtualInterface{VPCI: "2:16"}},
		}}},
	}
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// ============================================================================
// DefaultConfig Tests
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if cfg.Duration != 0 {
		t.Errorf("Expected Duration=0, got %v", cfg.Duration)
	}

	if cfg.Poll.Interval != time.Second {
		t.Errorf("Expected Poll.Interval=1s, got %v", cfg.Poll.Interval)
	}

	if cfg.Poll.Timeout != 60*time.Second {
		t.Errorf("Expected Poll.Timeout=60s, got %v", cfg.Poll.Timeout)
	}

	if cfg.OutputFormat != FormatText {
		t.Errorf("Expected OutputFormat=%s, got %s", FormatText, cfg.OutputFormat)
	}
}

func TestDefaultConfigWebUI(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.WebUI.Enabled {
		t.Error("Expected WebUI.Enabled=false")
	}

	if cfg.WebUI.Address != ":8080" {
		t.Errorf("Expected WebUI.Address=:8080, got %s", cfg.WebUI.Address)
	}
}

func TestDefaultConfigSimulator(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Simulator.TransitionPolls != 2 {
		t.Errorf("Expected TransitionPolls=2, got %d", cfg.Simulator.TransitionPolls)
	}

	if len(cfg.Simulator.DownPorts) != 0 {
		t.Errorf("Expected no down ports, got %v", cfg.Simulator.DownPorts)
	}
}

// ============================================================================
// Load Tests
// ============================================================================

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.TrafficProfile != "/etc/ixnet/ipv4_profile.yaml" {
		t.Errorf("Expected TrafficProfile from file, got %s", cfg.TrafficProfile)
	}

	if cfg.Duration != 45*time.Second {
		t.Errorf("Expected Duration=45s, got %v", cfg.Duration)
	}

	if cfg.Poll.Interval != 500*time.Millisecond {
		t.Errorf("Expected Poll.Interval=500ms, got %v", cfg.Poll.Interval)
	}

	if cfg.OutputFormat != FormatJSON {
		t.Errorf("Expected OutputFormat=json, got %s", cfg.OutputFormat)
	}

	if !cfg.Logging.JSON || cfg.Logging.Verbose != 1 {
		t.Errorf("Expected JSON verbose logging, got %+v", cfg.Logging)
	}

	if !cfg.WebUI.Enabled || cfg.WebUI.Address != ":9090" {
		t.Errorf("Expected web UI on :9090, got %+v", cfg.WebUI)
	}

	if cfg.Simulator.TransitionPolls != 3 {
		t.Errorf("Expected TransitionPolls=3, got %d", cfg.Simulator.TransitionPolls)
	}
}

func TestLoadNode(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	conn, err := ixnextgen.GetConfig(cfg.Node)
	if err != nil {
		t.Fatalf("GetConfig() failed: %v", err)
	}

	if conn.Machine != "152.16.100.20" {
		t.Errorf("Expected Machine=152.16.100.20, got %s", conn.Machine)
	}

	if conn.Port != "8009" {
		t.Errorf("Expected Port=8009, got %s", conn.Port)
	}

	if conn.OutputDir != "/root/results" {
		t.Errorf("Expected OutputDir=/root/results, got %s", conn.OutputDir)
	}

	if len(conn.Ports) != 2 || conn.Ports[0] != "15" || conn.Ports[1] != "16" {
		t.Errorf("Expected ports [15 16], got %v", conn.Ports)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	// Only the required keys; everything else comes from DefaultConfig
	content := sampleConfig[:strings.Index(sampleConfig, "duration:")] +
		sampleConfig[strings.Index(sampleConfig, "node:"):]

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Poll.Timeout != 60*time.Second {
		t.Errorf("Expected default Poll.Timeout=60s, got %v", cfg.Poll.Timeout)
	}

	if cfg.OutputFormat != FormatText {
		t.Errorf("Expected default OutputFormat=text, got %s", cfg.OutputFormat)
	}

	if cfg.WebUI.Address != ":8080" {
		t.Errorf("Expected default WebUI.Address, got %s", cfg.WebUI.Address)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "node: [unterminated"))
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	content := strings.Replace(sampleConfig, "output_format: json", "output_format: xml", 1)
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Expected validation error for output_format xml")
	}
}

// ============================================================================
// ApplyEnv Tests
// ============================================================================

func TestApplyEnv(t *testing.T) {
	t.Setenv("IXNET_MACHINE", "10.0.0.5")
	t.Setenv("IXNET_TCL_PORT", "8010")
	t.Setenv("IXNET_CHASSIS", "10.0.0.9")
	t.Setenv("IXNET_VERSION", "9.00")
	t.Setenv("IXNET_RESULT_DIR", "/tmp/results")
	t.Setenv("IXNET_DURATION", "2m")

	cfg := validConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() failed: %v", err)
	}

	tg := cfg.Node.MgmtInterface.TGConfig
	if cfg.Node.MgmtInterface.IP != "10.0.0.5" {
		t.Errorf("Expected IP=10.0.0.5, got %s", cfg.Node.MgmtInterface.IP)
	}
	if tg.TCLPort != "8010" {
		t.Errorf("Expected TCLPort=8010, got %s", tg.TCLPort)
	}
	if tg.IxChassis != "10.0.0.9" {
		t.Errorf("Expected IxChassis=10.0.0.9, got %s", tg.IxChassis)
	}
	if tg.Version != "9.00" {
		t.Errorf("Expected Version=9.00, got %s", tg.Version)
	}
	if tg.DUTResultDir != "/tmp/results" {
		t.Errorf("Expected DUTResultDir=/tmp/results, got %s", tg.DUTResultDir)
	}
	if cfg.Duration != 2*time.Minute {
		t.Errorf("Expected Duration=2m, got %v", cfg.Duration)
	}
}

func TestApplyEnvUnsetKeepsValues(t *testing.T) {
	cfg := validConfig()
	cfg.Duration = 10 * time.Second

	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() failed: %v", err)
	}

	if cfg.Node.MgmtInterface.IP != "152.16.100.20" {
		t.Errorf("Expected IP unchanged, got %s", cfg.Node.MgmtInterface.IP)
	}
	if cfg.Duration != 10*time.Second {
		t.Errorf("Expected Duration unchanged, got %v", cfg.Duration)
	}
}

func TestApplyEnvInvalidDuration(t *testing.T) {
	t.Setenv("IXNET_DURATION", "soon")

	if err := validConfig().ApplyEnv(); err == nil {
		t.Error("Expected error for invalid IXNET_DURATION")
	}
}

func TestLoadAppliesEnv(t *testing.T) {
	t.Setenv("IXNET_MACHINE", "10.0.0.5")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Node.MgmtInterface.IP != "10.0.0.5" {
		t.Errorf("Expected env override of IP, got %s", cfg.Node.MgmtInterface.IP)
	}
}

// ============================================================================
// Save Tests
// ============================================================================

func TestSaveAndLoad(t *testing.T) {
	cfg := validConfig()
	cfg.Duration = 20 * time.Second
	cfg.OutputFormat = FormatCSV
	cfg.Simulator.DownPorts = []string{"1.1.1.1;2;15"}

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if loaded.Duration != cfg.Duration {
		t.Errorf("Expected Duration=%v, got %v", cfg.Duration, loaded.Duration)
	}
	if loaded.OutputFormat != FormatCSV {
		t.Errorf("Expected OutputFormat=csv, got %s", loaded.OutputFormat)
	}
	if loaded.Node.MgmtInterface.TGConfig.TCLPort != "8009" {
		t.Errorf("Expected TCLPort=8009, got %s", loaded.Node.MgmtInterface.TGConfig.TCLPort)
	}
	if len(loaded.Simulator.DownPorts) != 1 {
		t.Errorf("Expected 1 down port, got %v", loaded.Simulator.DownPorts)
	}
}

func TestSaveInvalidPath(t *testing.T) {
	cfg := validConfig()
	err := cfg.Save(filepath.Join(t.TempDir(), "missing", "dir", "config.yaml"))
	if err == nil {
		t.Error("Expected error for invalid path")
	}
}

// ============================================================================
// Validate Tests
// ============================================================================

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing node ip", func(c *Config) { c.Node.MgmtInterface.IP = "" }},
		{"missing vdu", func(c *Config) { c.Node.VDU = nil }},
		{"missing traffic profile", func(c *Config) { c.TrafficProfile = "" }},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }},
		{"negative poll interval", func(c *Config) { c.Poll.Interval = -time.Second }},
		{"interval above timeout", func(c *Config) { c.Poll.Interval = time.Minute; c.Poll.Timeout = time.Second }},
		{"invalid output format", func(c *Config) { c.OutputFormat = "xml" }},
		{"web ui without address", func(c *Config) { c.WebUI.Enabled = true; c.WebUI.Address = "" }},
		{"negative transition polls", func(c *Config) { c.Simulator.TransitionPolls = -1 }},
		{"malformed down port", func(c *Config) { c.Simulator.DownPorts = []string{"1.1.1.1/2/16"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestValidateOutputFormats(t *testing.T) {
	for _, f := range []OutputFormat{FormatText, FormatJSON, FormatCSV} {
		cfg := validConfig()
		cfg.OutputFormat = f
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected %s to be valid, got %v", f, err)
		}
	}
}

// ============================================================================
// Simulator Tests
// ============================================================================

func TestDownPortLocations(t *testing.T) {
	sim := SimulatorConfig{DownPorts: []string{"1.1.1.1;2;15", "1.1.1.1;2;16"}}

	locs, err := sim.DownPortLocations()
	if err != nil {
		t.Fatalf("DownPortLocations() failed: %v", err)
	}

	if len(locs) != 2 {
		t.Fatalf("Expected 2 locations, got %d", len(locs))
	}

	if locs[1].Card != "2" || locs[1].Port != "16" {
		t.Errorf("Expected card 2 port 16, got %+v", locs[1])
	}

	if locs[0].String() != "1.1.1.1;2;15" {
		t.Errorf("Expected round trip of location, got %s", locs[0])
	}
}
