package ixnextgen

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/gopacket/gopacket/layers"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/profile"
)

// Tag ether-types as the generator expects them: 802.1ad on the outer
// ethernet header, 802.1Q for the C-tag carried inside the S-tag
var (
	etherType8021ad = etherType(layers.EthernetTypeQinQ)
	etherType8021Q  = etherType(layers.EthernetTypeDot1Q)
)

func etherType(t layers.EthernetType) string { return fmt.Sprintf("0x%04x", uint16(t)) }

// configElement returns the config element of a flow group. Config elements
// follow the endpoint set order, so the name doubles as the element index.
func (d *Driver) configElement(flowGroup string) (ixnet.Ref, bool, error) {
	item, err := d.trafficItem()
	if err != nil {
		return ixnet.Ref{}, false, err
	}
	sets, err := d.sess.GetList(item, "endpointSet")
	if err != nil {
		return ixnet.Ref{}, false, errors.Wrap(err, "list endpoint sets")
	}
	for _, ep := range sets {
		name, err := d.sess.GetAttribute(ep, "-name")
		if err != nil {
			return ixnet.Ref{}, false, errors.Wrapf(err, "read name of %s", ep.Path())
		}
		if name == flowGroup {
			return item.Item("configElement", flowGroup), true, nil
		}
	}
	return ixnet.Ref{}, false, nil
}

func (d *Driver) mustConfigElement(flowGroup string) (ixnet.Ref, error) {
	ce, ok, err := d.configElement(flowGroup)
	if err != nil {
		return ixnet.Ref{}, err
	}
	if !ok {
		return ixnet.Ref{}, &ixnet.FlowNotPresentError{FlowGroup: flowGroup}
	}
	return ce, nil
}

// stackItems returns the stack items of a flow group whose name contains proto
func (d *Driver) stackItems(flowGroup, proto string) ([]ixnet.Ref, error) {
	ce, err := d.mustConfigElement(flowGroup)
	if err != nil {
		return nil, err
	}
	items, err := d.sess.GetList(ce, "stack")
	if err != nil {
		return nil, errors.Wrapf(err, "list stack of %s", ce.Path())
	}
	var out []ixnet.Ref
	for _, si := range items {
		if strings.Contains(si.Leaf().ID, proto) {
			out = append(out, si)
		}
	}
	return out, nil
}

func (d *Driver) stackItem(flowGroup, proto string, index int) (ixnet.Ref, error) {
	items, err := d.stackItems(flowGroup, proto)
	if err != nil {
		return ixnet.Ref{}, err
	}
	if index >= len(items) {
		return ixnet.Ref{}, errors.Errorf("flow group %s: no %s stack item #%d", flowGroup, proto, index)
	}
	return items[index], nil
}

// field returns the first field of a stack item whose name contains name
func (d *Driver) field(stackItem ixnet.Ref, name string) (ixnet.Ref, error) {
	fields, err := d.sess.GetList(stackItem, "field")
	if err != nil {
		return ixnet.Ref{}, errors.Wrapf(err, "list fields of %s", stackItem.Path())
	}
	for _, f := range fields {
		if strings.Contains(f.Leaf().ID, name) {
			return f, nil
		}
	}
	return ixnet.Ref{}, &ixnet.FieldNotPresentError{Field: name, StackItem: stackItem}
}

func (d *Driver) setField(stackItem ixnet.Ref, name string, attrs ...ixnet.Attr) error {
	f, err := d.field(stackItem, name)
	if err != nil {
		return err
	}
	return errors.Wrapf(d.sess.SetMultiAttribute(f, attrs...), "set %s", f.Path())
}

func singleValueAttrs(v any) []ixnet.Attr {
	return []ixnet.Attr{
		ixnet.A("-auto", "false"),
		ixnet.A("-singleValue", v),
		ixnet.A("-fieldValue", v),
		ixnet.A("-valueType", singleValue),
	}
}

// UpdateFrame programs the L2 frame of every flow group: transmission type
// and duration, frame rate and unit, IMIX frame sizes, optional QinQ tags and
// the source/destination MAC addresses.
func (d *Driver) UpdateFrame(traffic profile.Traffic, duration time.Duration) error {
	s, err := d.session()
	if err != nil {
		return err
	}

	for _, fp := range traffic {
		fg := fp.FlowGroup()
		ce, err := d.mustConfigElement(fg)
		if err != nil {
			return err
		}

		trafficType := fp.TrafficType
		if trafficType == "" {
			trafficType = profile.DefaultTrafficType
		}
		rateUnit := "percentLineRate"
		if fp.RateUnit == profile.RateFPS || fp.RateUnit == "" {
			rateUnit = "framesPerSecond"
		}
		pairs, err := profile.ParseFrameSize(fp.OuterL2.FrameSize)
		if err != nil {
			return errors.Wrapf(err, "flow group %s", fg)
		}
		srcMAC := valueOr(fp.SrcMAC, profile.DefaultSrcMAC)
		dstMAC := valueOr(fp.DstMAC, profile.DefaultDstMAC)

		if q := fp.OuterL2.QinQ; q != nil {
			if err := d.setupQinQ(fg, ce, *q); err != nil {
				return err
			}
		}

		d.log.Debug("update frame",
			zap.String("flow_group", fg),
			zap.String("type", trafficType),
			zap.Float64("rate", fp.Rate),
			zap.String("rate_unit", rateUnit))

		if err := s.SetMultiAttribute(ce.Child("transmissionControl"),
			ixnet.A("-type", trafficType),
			ixnet.A("-duration", int(duration/time.Second))); err != nil {
			return errors.Wrap(err, "set transmission control")
		}
		if err := s.SetMultiAttribute(ce.Child("frameRate"),
			ixnet.A("-rate", fp.Rate),
			ixnet.A("-type", rateUnit)); err != nil {
			return errors.Wrap(err, "set frame rate")
		}
		if err := s.SetMultiAttribute(ce.Child("frameSize"),
			ixnet.A("-type", "weightedPairs"),
			ixnet.A("-weightedRangePairs", weightedPairs(pairs))); err != nil {
			return errors.Wrap(err, "set frame size")
		}
		if err := s.Commit(); err != nil {
			return errors.Wrap(err, "commit frame")
		}

		if err := d.updateFrameMAC(fg, "destinationAddress", dstMAC); err != nil {
			return err
		}
		if err := d.updateFrameMAC(fg, "sourceAddress", srcMAC); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) setupQinQ(fg string, ce ixnet.Ref, q profile.QinQ) error {
	eth, err := d.stackItem(fg, ProtoEthernet, 0)
	if err != nil {
		return err
	}
	if err := d.setField(eth, "etherType", singleValueAttrs(etherType8021ad)...); err != nil {
		return err
	}

	if err := d.appendProtocol(ProtoVLAN, ethernetStack(ce)); err != nil {
		return err
	}
	if err := d.appendProtocol(ProtoVLAN, ethernetStack(ce)); err != nil {
		return err
	}

	sTag, err := d.stackItem(fg, ProtoVLAN, sVLAN)
	if err != nil {
		return err
	}
	if err := d.setField(sTag, "protocolID", singleValueAttrs(etherType8021Q)...); err != nil {
		return err
	}
	if err := d.updateVLANTag(fg, q.SVLAN, sVLAN); err != nil {
		return err
	}
	return d.updateVLANTag(fg, q.CVLAN, cVLAN)
}

// updateVLANTag sets the non-zero tag fields of the index-th vlan stack item
func (d *Driver) updateVLANTag(fg string, tag profile.VLANTag, index int) error {
	fields := []struct {
		name  string
		value int
	}{
		{"vlanUserPriority", tag.Priority},
		{"cfi", tag.CFI},
		{"vlanID", tag.ID},
	}
	for _, f := range fields {
		if f.value == 0 {
			continue
		}
		vlan, err := d.stackItem(fg, ProtoVLAN, index)
		if err != nil {
			return err
		}
		if err := d.setField(vlan, f.name, singleValueAttrs(f.value)...); err != nil {
			return err
		}
	}
	return errors.Wrap(d.sess.Commit(), "commit vlan tag")
}

func (d *Driver) updateFrameMAC(fg, fieldName, mac string) error {
	eth, err := d.stackItem(fg, ProtoEthernet, 0)
	if err != nil {
		return err
	}
	if err := d.setField(eth, fieldName,
		ixnet.A("-singleValue", mac),
		ixnet.A("-fieldValue", mac),
		ixnet.A("-valueType", singleValue)); err != nil {
		return err
	}
	return errors.Wrap(d.sess.Commit(), "commit mac")
}

// UpdateIPPacket sets source and destination IPv4 addresses as random values
// inside the configured prefixes. Only IPv4 is supported.
func (d *Driver) UpdateIPPacket(traffic profile.Traffic) error {
	if _, err := d.session(); err != nil {
		return err
	}

	for _, fp := range traffic {
		fg := fp.FlowGroup()
		if _, err := d.mustConfigElement(fg); err != nil {
			return err
		}

		l3 := fp.OuterL3
		srcMask := intOr(l3.SrcMask, ipv4Mask)
		dstMask := intOr(l3.DstMask, ipv4Mask)

		ip, err := d.stackItem(fg, ProtoIPv4, 0)
		if err != nil {
			return err
		}
		if err := d.updateIPv4Address(ip, "srcIp", l3.SrcIP, l3.Seed, srcMask, l3.Count); err != nil {
			return err
		}
		if err := d.updateIPv4Address(ip, "dstIp", l3.DstIP, l3.Seed, dstMask, l3.Count); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) updateIPv4Address(ipItem ixnet.Ref, fieldName, addr string, seed, mask, count int) error {
	randomMask, err := ipv4RandomMask(mask)
	if err != nil {
		return err
	}
	if err := d.setField(ipItem, fieldName,
		ixnet.A("-seed", seed),
		ixnet.A("-fixedBits", addr),
		ixnet.A("-randomMask", randomMask),
		ixnet.A("-valueType", "random"),
		ixnet.A("-countValue", count)); err != nil {
		return err
	}
	return errors.Wrap(d.sess.Commit(), "commit ipv4 address")
}

// ipv4RandomMask returns the host bits of a prefix as a dotted quad,
// e.g. 24 -> 0.0.0.255
func ipv4RandomMask(prefixLen int) (string, error) {
	if prefixLen < 0 || prefixLen > 32 {
		return "", errors.Errorf("invalid IPv4 prefix length %d", prefixLen)
	}
	host := uint32(1<<(32-prefixLen) - 1)
	return netip.AddrFrom4([4]byte{
		byte(host >> 24), byte(host >> 16), byte(host >> 8), byte(host),
	}).String(), nil
}

// UpdateL4 sets the UDP source and destination ports of every flow group.
// Every flow is checked before anything is written; the protocol must be set,
// profile.Config.Traffic fills in the default.
func (d *Driver) UpdateL4(traffic profile.Traffic) error {
	if _, err := d.session(); err != nil {
		return err
	}
	for _, fp := range traffic {
		if proto := fp.OuterL3.Proto; !supportedL4[proto] {
			return &ixnet.UnsupportedProtocolError{Protocol: proto}
		}
	}

	for _, fp := range traffic {
		fg := fp.FlowGroup()
		if _, err := d.mustConfigElement(fg); err != nil {
			return err
		}
		proto := fp.OuterL3.Proto
		l4 := fp.OuterL4

		item, err := d.stackItem(fg, proto, 0)
		if err != nil {
			return err
		}
		if err := d.updateUDPPort(item, "srcPort", l4.SrcPort, l4.Seed, l4.SrcPortMask, l4.Count); err != nil {
			return err
		}
		if err := d.updateUDPPort(item, "dstPort", l4.DstPort, l4.Seed, l4.DstPortMask, l4.Count); err != nil {
			return err
		}
	}
	return nil
}

// updateUDPPort writes a random port value; a zero mask pins a single port
func (d *Driver) updateUDPPort(item ixnet.Ref, fieldName string, value, seed, mask, count int) error {
	if mask == 0 {
		seed, count = 1, 1
	}
	if err := d.setField(item, fieldName,
		ixnet.A("-auto", "false"),
		ixnet.A("-seed", seed),
		ixnet.A("-fixedBits", value),
		ixnet.A("-randomMask", mask),
		ixnet.A("-valueType", "random"),
		ixnet.A("-countValue", count)); err != nil {
		return err
	}
	return errors.Wrap(d.sess.Commit(), "commit udp port")
}

func weightedPairs(pairs []profile.WeightedRangePair) [][]int {
	out := make([][]int, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, []int{p[0], p[1], p[2]})
	}
	return out
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
