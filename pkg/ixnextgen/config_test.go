package ixnextgen

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testNode(vpcis ...string) NodeDescriptor {
	var intfs []ExternalInterface
	for i, v := range vpcis {
		intfs = append(intfs, ExternalInterface{
			Name:             "xe" + string(rune('0'+i)),
			VirtualInterface: VirtualInterface{VPCI: v},
		})
	}
	return NodeDescriptor{
		Name: "trafficgen_1",
		Role: "IxNet",
		MgmtInterface: MgmtInterface{
			IP: "152.16.100.20",
			TGConfig: TGConfig{
				TCLPort:      "8009",
				IxChassis:    "1.1.1.1",
				DUTResultDir: "/root",
				Version:      "8.01.106.3",
			},
		},
		VDU: []VDU{{ExternalInterface: intfs}},
	}
}

func TestGetConfig(t *testing.T) {
	cfg, err := GetConfig(testNode("2:15", "2:16"))
	require.NoError(t, err)

	assert.Equal(t, ConnectionConfig{
		Machine:   "152.16.100.20",
		Port:      "8009",
		Chassis:   "1.1.1.1",
		Cards:     []string{"2", "2"},
		Ports:     []string{"15", "16"},
		OutputDir: "/root",
		Version:   "8.01.106.3",
		Bidir:     true,
	}, cfg)
}

func TestGetConfigIgnoresExtraVPCIParts(t *testing.T) {
	cfg, err := GetConfig(testNode("3:1:0"))
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, cfg.Cards)
	assert.Equal(t, []string{"1"}, cfg.Ports)
}

func TestGetConfigMissingKeys(t *testing.T) {
	tests := map[string]struct {
		mutate func(*NodeDescriptor)
		key    string
	}{
		"no vdu":     {func(n *NodeDescriptor) { n.VDU = nil }, "vdu"},
		"no ip":      {func(n *NodeDescriptor) { n.MgmtInterface.IP = "" }, "mgmt-interface.ip"},
		"no port":    {func(n *NodeDescriptor) { n.MgmtInterface.TGConfig.TCLPort = "" }, "mgmt-interface.tg-config.tcl_port"},
		"no chassis": {func(n *NodeDescriptor) { n.MgmtInterface.TGConfig.IxChassis = "" }, "mgmt-interface.tg-config.ixchassis"},
		"no version": {func(n *NodeDescriptor) { n.MgmtInterface.TGConfig.Version = "" }, "mgmt-interface.tg-config.version"},
		"bad vpci": {func(n *NodeDescriptor) {
			n.VDU[0].ExternalInterface[1].VirtualInterface.VPCI = "216"
		}, "vdu[0].external-interface[1].virtual-interface.vpci"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			node := testNode("2:15", "2:16")
			tc.mutate(&node)
			_, err := GetConfig(node)

			var mke *MissingKeyError
			require.True(t, errors.As(err, &mke), "got %v", err)
			assert.Equal(t, tc.key, mke.Key)
		})
	}
}

func TestNodeDescriptorYAML(t *testing.T) {
	const doc = `
name: trafficgen_1
role: IxNet
mgmt-interface:
  ip: 152.16.100.20
  tg-config:
    ixchassis: 1.1.1.1
    tcl_port: 8009
    dut_result_dir: /root
    version: 8.01.106.3
vdu:
  - external-interface:
      - name: xe0
        virtual-interface:
          vpci: "2:15"
          local_mac: "00:98:10:64:14:00"
      - name: xe1
        virtual-interface:
          vpci: "2:16"
`
	var node NodeDescriptor
	require.NoError(t, yaml.Unmarshal([]byte(doc), &node))

	cfg, err := GetConfig(node)
	require.NoError(t, err)
	assert.Equal(t, "8009", cfg.Port)
	assert.Equal(t, []string{"2", "2"}, cfg.Cards)
	assert.Equal(t, []string{"15", "16"}, cfg.Ports)
}
