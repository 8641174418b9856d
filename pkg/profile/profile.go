package profile

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSchema      = "isb:traffic_profile:0.1"
	DefaultDuration    = 30 * time.Second
	DefaultFrameRate   = "100"
	DefaultTrafficType = "fixedDuration"
	DefaultSrcMAC      = "00:00:00:00:00:01"
	DefaultDstMAC      = "00:00:00:00:00:02"
	DefaultL4Protocol  = "udp"
)

// VLANTag is one 802.1Q tag; zero-valued fields are left at the generator default
type VLANTag struct {
	ID       int `yaml:"id"`
	Priority int `yaml:"priority"`
	CFI      int `yaml:"cfi"`
}

// QinQ holds the outer (service) and inner (customer) tags
type QinQ struct {
	SVLAN VLANTag `yaml:"S-VLAN"`
	CVLAN VLANTag `yaml:"C-VLAN"`
}

// L2Params is the outer_l2 section of a flow
type L2Params struct {
	FrameSize map[string]int `yaml:"framesize"`
	QinQ      *QinQ          `yaml:"QinQ,omitempty"`
}

// L3Params is the outer_l3 section of a flow
type L3Params struct {
	Proto   string `yaml:"proto"`
	SrcIP   string `yaml:"srcip"`
	DstIP   string `yaml:"dstip"`
	SrcMask int    `yaml:"srcmask"` // prefix length, 0 means /24
	DstMask int    `yaml:"dstmask"`
	Seed    int    `yaml:"seed"`
	Count   int    `yaml:"count"`
}

// L4Params is the outer_l4 section of a flow
type L4Params struct {
	SrcPort     int `yaml:"srcport"`
	SrcPortMask int `yaml:"srcportmask"`
	DstPort     int `yaml:"dstport"`
	DstPortMask int `yaml:"dstportmask"`
	Seed        int `yaml:"seed"`
	Count       int `yaml:"count"`
}

// FlowParams are the injection parameters of one flow group
type FlowParams struct {
	ID          int      `yaml:"id"`
	TrafficType string   `yaml:"traffic_type,omitempty"`
	Rate        float64  `yaml:"rate"`
	RateUnit    RateUnit `yaml:"rate_unit"`
	SrcMAC      string   `yaml:"srcmac,omitempty"`
	DstMAC      string   `yaml:"dstmac,omitempty"`
	OuterL2     L2Params `yaml:"outer_l2"`
	OuterL3     L3Params `yaml:"outer_l3"`
	OuterL4     L4Params `yaml:"outer_l4"`
}

// FlowGroup returns the flow group name the parameters apply to
func (f FlowParams) FlowGroup() string { return strconv.Itoa(f.ID) }

// Traffic is the ordered set of per-flow parameters
type Traffic []FlowParams

// Config is a traffic profile file
type Config struct {
	Schema      string         `yaml:"schema"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	TrafficType string         `yaml:"traffic_type"`
	FrameRate   string         `yaml:"frame_rate"` // e.g. "100", "10%"
	PacketSizes map[string]int `yaml:"packet_sizes"`
	Duration    time.Duration  `yaml:"duration"`
	Flows       Traffic        `yaml:"traffic"`
}

// DefaultConfig returns an empty profile with the documented defaults
func DefaultConfig() *Config {
	return &Config{
		Schema:      DefaultSchema,
		TrafficType: DefaultTrafficType,
		FrameRate:   DefaultFrameRate,
		Duration:    DefaultDuration,
	}
}

// Load reads a traffic profile from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate profile: %w", err)
	}

	return cfg, nil
}

// Validate checks the profile for errors
func (c *Config) Validate() error {
	if _, _, err := ParseRate(c.FrameRate); err != nil {
		return err
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if _, err := ParseFrameSize(c.PacketSizes); err != nil {
		return err
	}
	seen := make(map[int]bool)
	for i, f := range c.Flows {
		if f.ID <= 0 {
			return fmt.Errorf("flow %d: id must be positive", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("flow %d: duplicate id %d", i, f.ID)
		}
		seen[f.ID] = true
		if err := f.validate(); err != nil {
			return fmt.Errorf("flow %d: %w", f.ID, err)
		}
	}
	return nil
}

func (f FlowParams) validate() error {
	switch f.RateUnit {
	case "", RateFPS, RatePercent:
	default:
		return fmt.Errorf("invalid rate unit %q", f.RateUnit)
	}
	if f.Rate < 0 {
		return fmt.Errorf("rate must not be negative")
	}
	for _, mac := range []string{f.SrcMAC, f.DstMAC} {
		if mac == "" {
			continue
		}
		if _, err := net.ParseMAC(mac); err != nil {
			return fmt.Errorf("invalid MAC: %w", err)
		}
	}
	for _, ip := range []string{f.OuterL3.SrcIP, f.OuterL3.DstIP} {
		if ip == "" {
			continue
		}
		if _, err := netip.ParseAddr(ip); err != nil {
			return fmt.Errorf("invalid IP: %w", err)
		}
	}
	for _, m := range []int{f.OuterL3.SrcMask, f.OuterL3.DstMask} {
		if m < 0 || m > 32 {
			return fmt.Errorf("invalid prefix length %d", m)
		}
	}
	if _, err := ParseFrameSize(f.OuterL2.FrameSize); err != nil {
		return err
	}
	return nil
}

// Traffic returns the flows with profile-level defaults filled in:
// rate and unit from frame_rate, frame sizes from packet_sizes, traffic type,
// MAC addresses and the L3 protocol.
func (c *Config) Traffic() (Traffic, error) {
	rate, unit, err := ParseRate(c.FrameRate)
	if err != nil {
		return nil, err
	}

	out := make(Traffic, len(c.Flows))
	for i, f := range c.Flows {
		if f.Rate == 0 && f.RateUnit == "" {
			f.Rate, f.RateUnit = rate, unit
		}
		if f.RateUnit == "" {
			f.RateUnit = RateFPS
		}
		if f.TrafficType == "" {
			f.TrafficType = c.TrafficType
		}
		if f.TrafficType == "" {
			f.TrafficType = DefaultTrafficType
		}
		if len(f.OuterL2.FrameSize) == 0 {
			f.OuterL2.FrameSize = c.PacketSizes
		}
		if f.SrcMAC == "" {
			f.SrcMAC = DefaultSrcMAC
		}
		if f.DstMAC == "" {
			f.DstMAC = DefaultDstMAC
		}
		if f.OuterL3.Proto == "" {
			f.OuterL3.Proto = DefaultL4Protocol
		}
		out[i] = f
	}
	return out, nil
}
