// Package ixnextgen drives an IxNetwork traffic generator for RFC2544 runs.
//
// The driver owns one session. It builds a single traffic item with paired
// flow groups between adjacent ports:
//
//	              (uplink)    (downlink)
//	FlowGroup1:   port1    -> port2
//	FlowGroup2:   port1    <- port2
//	FlowGroup3:   port3    -> port4
//	FlowGroup4:   port3    <- port4
//
// and then programs rate, frame sizes and header fields per flow group.
// Calls are sequential; each dependent step is committed before the next.
package ixnextgen

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/poll"
)

// Protocol template names
const (
	ProtoEthernet = "ethernet"
	ProtoIPv4     = "ipv4"
	ProtoIPv6     = "ipv6"
	ProtoUDP      = "udp"
	ProtoTCP      = "tcp"
	ProtoVLAN     = "vlan"
)

// Traffic states reported by the server
const (
	TrafficStarted = "started"
	TrafficStopped = "stopped"
)

const (
	trafficItemName = "RFC2544"
	singleValue     = "singleValue"
	ipv4Mask        = 24

	sVLAN = 0
	cVLAN = 1
)

var supportedL4 = map[string]bool{ProtoUDP: true}

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the logger; the default discards output
func WithLogger(lg *zap.Logger) Option {
	return func(d *Driver) { d.log = lg }
}

// WithPollOptions bounds the traffic state waits
func WithPollOptions(o poll.Options) Option {
	return func(d *Driver) { d.poll = o }
}

// Driver configures and runs traffic on one IxNetwork session
type Driver struct {
	dialer ixnet.Dialer
	log    *zap.Logger
	poll   poll.Options

	sess ixnet.Session
	cfg  ConnectionConfig
}

// New returns a driver that opens its session through dialer
func New(dialer ixnet.Dialer, opts ...Option) *Driver {
	d := &Driver{
		dialer: dialer,
		log:    zap.NewNop(),
		poll:   poll.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect translates the node descriptor and opens the session
func (d *Driver) Connect(ctx context.Context, node NodeDescriptor) error {
	cfg, err := GetConfig(node)
	if err != nil {
		return err
	}

	d.log.Info("connecting to IxNetwork API server",
		zap.String("machine", cfg.Machine),
		zap.String("port", cfg.Port),
		zap.String("version", cfg.Version))

	sess, err := d.dialer.Dial(ctx, ixnet.DialOptions{
		Host:    cfg.Machine,
		Port:    cfg.Port,
		Version: cfg.Version,
	})
	if err != nil {
		return errors.Wrapf(err, "connect to %s:%s", cfg.Machine, cfg.Port)
	}
	if d.sess != nil && d.sess != sess {
		d.sess.Close()
	}
	d.sess = sess
	d.cfg = cfg
	return nil
}

// Close releases the session
func (d *Driver) Close() error {
	if d.sess == nil {
		return nil
	}
	err := d.sess.Close()
	d.sess = nil
	return err
}

// Config returns the connection config of the current session
func (d *Driver) Config() (ConnectionConfig, error) {
	if d.sess == nil {
		return ConnectionConfig{}, ixnet.ErrNotConnected
	}
	return d.cfg, nil
}

func (d *Driver) session() (ixnet.Session, error) {
	if d.sess == nil {
		return nil, ixnet.ErrNotConnected
	}
	return d.sess, nil
}

// ClearConfig wipes any configuration present on the server
func (d *Driver) ClearConfig() error {
	s, err := d.session()
	if err != nil {
		return err
	}
	_, err = s.Execute("newConfig")
	return errors.Wrap(err, "newConfig")
}

// AssignPorts creates a vport per configured physical port and assigns it.
// A port that does not come up is logged and otherwise ignored.
func (d *Driver) AssignPorts() error {
	s, err := d.session()
	if err != nil {
		return err
	}

	locs := make([]ixnet.PortLocation, 0, len(d.cfg.Ports))
	for i := range d.cfg.Ports {
		locs = append(locs, ixnet.PortLocation{
			Chassis: d.cfg.Chassis,
			Card:    d.cfg.Cards[i],
			Port:    d.cfg.Ports[i],
		})
	}

	d.log.Info("create and assign vports", zap.Stringers("ports", locs))
	for _, loc := range locs {
		vport, err := s.Add(ixnet.Root(), "vport")
		if err != nil {
			return errors.Wrap(err, "add vport")
		}
		if err := s.Commit(); err != nil {
			return errors.Wrap(err, "commit vport")
		}
		if _, err := s.Execute("assignPorts",
			[]ixnet.PortLocation{loc}, []ixnet.PortLocation{}, []ixnet.Ref{vport}, true); err != nil {
			return errors.Wrapf(err, "assign port %s", loc)
		}
		if err := s.Commit(); err != nil {
			return errors.Wrap(err, "commit port assignment")
		}

		state, err := s.GetAttribute(vport, "-state")
		if err != nil {
			return errors.Wrapf(err, "read state of %s", vport.Path())
		}
		if state != "up" {
			d.log.Warn("port is down", zap.String("vport", vport.Path()), zap.Stringer("port", loc))
		}
	}
	return nil
}

// CreateTrafficModel creates the traffic item, its flow groups and the
// default ethernet/ipv4/udp frame layout of every config element.
func (d *Driver) CreateTrafficModel() error {
	if _, err := d.session(); err != nil {
		return err
	}
	if err := d.createTrafficItem(); err != nil {
		return err
	}
	if err := d.createFlowGroups(); err != nil {
		return err
	}
	return d.setupConfigElements()
}

// createTrafficItem tracks by traffic group so latency statistics are kept
func (d *Driver) createTrafficItem() error {
	s := d.sess
	d.log.Info("create the traffic item", zap.String("name", trafficItemName))

	item, err := s.Add(ixnet.Root().Child("traffic"), "trafficItem")
	if err != nil {
		return errors.Wrap(err, "add traffic item")
	}
	if err := s.SetMultiAttribute(item,
		ixnet.A("-name", trafficItemName),
		ixnet.A("-trafficType", "raw")); err != nil {
		return errors.Wrap(err, "configure traffic item")
	}
	if err := s.Commit(); err != nil {
		return errors.Wrap(err, "commit traffic item")
	}

	ids, err := s.RemapIDs(item)
	if err != nil {
		return errors.Wrap(err, "remap traffic item id")
	}
	if err := s.SetAttribute(ids[0].Child("tracking"), "-trackBy", []string{"trafficGroupId0"}); err != nil {
		return errors.Wrap(err, "set tracking")
	}
	return errors.Wrap(s.Commit(), "commit tracking")
}

func (d *Driver) trafficItem() (ixnet.Ref, error) {
	items, err := d.sess.GetList(ixnet.Root().Child("traffic"), "trafficItem")
	if err != nil {
		return ixnet.Ref{}, errors.Wrap(err, "list traffic items")
	}
	if len(items) == 0 {
		return ixnet.Ref{}, errors.New("no traffic item configured")
	}
	return items[0], nil
}

func (d *Driver) createFlowGroups() error {
	s := d.sess
	item, err := d.trafficItem()
	if err != nil {
		return err
	}

	d.log.Info("create the flow groups")
	vports, err := s.GetList(ixnet.Root(), "vport")
	if err != nil {
		return errors.Wrap(err, "list vports")
	}

	index := 0
	for i := 0; i+1 < len(vports); i += 2 {
		up, down := vports[i], vports[i+1]
		d.log.Info("flow groups", zap.String("uplink", up.Path()), zap.String("downlink", down.Path()))

		ep1, err := s.Add(item, "endpointSet")
		if err != nil {
			return errors.Wrap(err, "add endpoint set")
		}
		ep2, err := s.Add(item, "endpointSet")
		if err != nil {
			return errors.Wrap(err, "add endpoint set")
		}
		if err := s.SetMultiAttribute(ep1,
			ixnet.A("-name", fmt.Sprint(index+1)),
			ixnet.A("-sources", []ixnet.Ref{up.Child("protocols")}),
			ixnet.A("-destinations", []ixnet.Ref{down.Child("protocols")})); err != nil {
			return errors.Wrap(err, "configure uplink flow group")
		}
		if err := s.SetMultiAttribute(ep2,
			ixnet.A("-name", fmt.Sprint(index+2)),
			ixnet.A("-sources", []ixnet.Ref{down.Child("protocols")}),
			ixnet.A("-destinations", []ixnet.Ref{up.Child("protocols")})); err != nil {
			return errors.Wrap(err, "configure downlink flow group")
		}
		if err := s.Commit(); err != nil {
			return errors.Wrap(err, "commit flow groups")
		}
		index += 2
	}
	if len(vports)%2 != 0 {
		d.log.Warn("odd number of ports, last port has no peer", zap.String("vport", vports[len(vports)-1].Path()))
	}
	return nil
}

// setupConfigElements splits the rate evenly and turns the default
// ethernet/payload frame into ethernet/ipv4/udp/payload.
func (d *Driver) setupConfigElements() error {
	s := d.sess
	item, err := d.trafficItem()
	if err != nil {
		return err
	}

	d.log.Info("split the frame rate distribution per config element")
	elements, err := s.GetList(item, "configElement")
	if err != nil {
		return errors.Wrap(err, "list config elements")
	}
	for _, ce := range elements {
		dist := ce.Child("frameRateDistribution")
		if err := s.SetAttribute(dist, "-portDistribution", "splitRateEvenly"); err != nil {
			return errors.Wrap(err, "set port distribution")
		}
		if err := s.SetAttribute(dist, "-streamDistribution", "splitRateEvenly"); err != nil {
			return errors.Wrap(err, "set stream distribution")
		}
		if err := s.Commit(); err != nil {
			return errors.Wrap(err, "commit rate distribution")
		}
		eth := ethernetStack(ce)
		if err := d.appendProtocol(ProtoUDP, eth); err != nil {
			return err
		}
		if err := d.appendProtocol(ProtoIPv4, eth); err != nil {
			return err
		}
	}
	return nil
}

func ethernetStack(ce ixnet.Ref) ixnet.Ref { return ce.Named("stack", "ethernet-1") }

func (d *Driver) appendProtocol(proto string, after ixnet.Ref) error {
	_, err := d.sess.Execute("append", after, ixnet.ProtocolTemplate(proto))
	return errors.Wrapf(err, "append %s after %s", proto, after.Path())
}
