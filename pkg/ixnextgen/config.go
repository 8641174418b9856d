package ixnextgen

import (
	"fmt"
	"strings"
)

// NodeDescriptor is the traffic-generator node as described in a test context
type NodeDescriptor struct {
	Name          string        `yaml:"name,omitempty"`
	Role          string        `yaml:"role,omitempty"`
	MgmtInterface MgmtInterface `yaml:"mgmt-interface"`
	VDU           []VDU         `yaml:"vdu"`
}

// MgmtInterface is the management side of the node
type MgmtInterface struct {
	IP       string   `yaml:"ip"`
	TGConfig TGConfig `yaml:"tg-config"`
}

// TGConfig holds the IxNetwork API server and chassis settings
type TGConfig struct {
	TCLPort      string `yaml:"tcl_port"`
	IxChassis    string `yaml:"ixchassis"`
	DUTResultDir string `yaml:"dut_result_dir"`
	Version      string `yaml:"version"`
}

// VDU lists the node's data-plane interfaces
type VDU struct {
	ExternalInterface []ExternalInterface `yaml:"external-interface"`
}

// ExternalInterface is one traffic port
type ExternalInterface struct {
	Name             string           `yaml:"name,omitempty"`
	VirtualInterface VirtualInterface `yaml:"virtual-interface"`
}

// VirtualInterface carries the chassis location as "card:port" in VPCI
type VirtualInterface struct {
	VPCI       string `yaml:"vpci"`
	LocalIP    string `yaml:"local_ip,omitempty"`
	LocalMAC   string `yaml:"local_mac,omitempty"`
	Netmask    string `yaml:"netmask,omitempty"`
	DPDKPortNo int    `yaml:"dpdk_port_num,omitempty"`
}

// ConnectionConfig is the flat view of a node used by the driver
type ConnectionConfig struct {
	Machine   string   `yaml:"machine" json:"machine"`
	Port      string   `yaml:"port" json:"port"`
	Chassis   string   `yaml:"chassis" json:"chassis"`
	Cards     []string `yaml:"cards" json:"cards"`
	Ports     []string `yaml:"ports" json:"ports"`
	OutputDir string   `yaml:"output_dir" json:"output_dir"`
	Version   string   `yaml:"version" json:"version"`
	Bidir     bool     `yaml:"bidir" json:"bidir"`
}

// MissingKeyError reports a descriptor key that is absent or empty
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("node descriptor: missing key %q", e.Key)
}

// GetConfig flattens a node descriptor into a connection config
func GetConfig(node NodeDescriptor) (ConnectionConfig, error) {
	if len(node.VDU) == 0 {
		return ConnectionConfig{}, &MissingKeyError{Key: "vdu"}
	}

	var cards, ports []string
	for i, intf := range node.VDU[0].ExternalInterface {
		vpci := intf.VirtualInterface.VPCI
		parts := strings.Split(vpci, ":")
		if vpci == "" || len(parts) < 2 {
			return ConnectionConfig{}, &MissingKeyError{
				Key: fmt.Sprintf("vdu[0].external-interface[%d].virtual-interface.vpci", i),
			}
		}
		cards = append(cards, parts[0])
		ports = append(ports, parts[1])
	}

	mgmt := node.MgmtInterface
	tg := mgmt.TGConfig
	required := []struct {
		key, val string
	}{
		{"mgmt-interface.ip", mgmt.IP},
		{"mgmt-interface.tg-config.tcl_port", tg.TCLPort},
		{"mgmt-interface.tg-config.ixchassis", tg.IxChassis},
		{"mgmt-interface.tg-config.dut_result_dir", tg.DUTResultDir},
		{"mgmt-interface.tg-config.version", tg.Version},
	}
	for _, r := range required {
		if r.val == "" {
			return ConnectionConfig{}, &MissingKeyError{Key: r.key}
		}
	}

	return ConnectionConfig{
		Machine:   mgmt.IP,
		Port:      tg.TCLPort,
		Chassis:   tg.IxChassis,
		Cards:     cards,
		Ports:     ports,
		OutputDir: tg.DUTResultDir,
		Version:   tg.Version,
		Bidir:     true,
	}, nil
}
