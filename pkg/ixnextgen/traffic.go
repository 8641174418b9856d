package ixnextgen

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/poll"
)

func trafficRef() ixnet.Ref { return ixnet.Root().Child("traffic") }

// TrafficState returns the raw traffic state reported by the server
func (d *Driver) TrafficState() (string, error) {
	s, err := d.session()
	if err != nil {
		return "", err
	}
	state, err := s.GetAttribute(trafficRef(), "-state")
	return state, errors.Wrap(err, "read traffic state")
}

// IsTrafficRunning reports whether the traffic state is "started"
func (d *Driver) IsTrafficRunning() (bool, error) {
	state, err := d.TrafficState()
	return state == TrafficStarted, err
}

// IsTrafficStopped reports whether the traffic state is "stopped"
func (d *Driver) IsTrafficStopped() (bool, error) {
	state, err := d.TrafficState()
	return state == TrafficStopped, err
}

// StartTraffic regenerates, applies and starts the traffic item and returns
// once the server reports it running. Running traffic is stopped first.
func (d *Driver) StartTraffic(ctx context.Context) error {
	s, err := d.session()
	if err != nil {
		return err
	}

	items, err := s.GetList(trafficRef(), "trafficItem")
	if err != nil {
		return errors.Wrap(err, "list traffic items")
	}

	running, err := d.IsTrafficRunning()
	if err != nil {
		return err
	}
	if running {
		d.log.Info("traffic already running, stopping it first")
		if err := d.stopAndWait(ctx); err != nil {
			return err
		}
	}

	if _, err := s.Execute("generate", items); err != nil {
		return errors.Wrap(err, "generate traffic")
	}
	if _, err := s.Execute("apply", trafficRef()); err != nil {
		return errors.Wrap(err, "apply traffic")
	}
	if _, err := s.Execute("start", trafficRef()); err != nil {
		return errors.Wrap(err, "start traffic")
	}
	if err := poll.Until(ctx, d.poll, d.IsTrafficRunning); err != nil {
		return errors.Wrap(err, "wait for traffic to start")
	}
	d.log.Info("traffic started")
	return nil
}

// StopTraffic stops the traffic and waits until it is reported stopped
func (d *Driver) StopTraffic(ctx context.Context) error {
	if _, err := d.session(); err != nil {
		return err
	}
	stopped, err := d.IsTrafficStopped()
	if err != nil || stopped {
		return err
	}
	return d.stopAndWait(ctx)
}

func (d *Driver) stopAndWait(ctx context.Context) error {
	if _, err := d.sess.Execute("stop", trafficRef()); err != nil {
		return errors.Wrap(err, "stop traffic")
	}
	if err := poll.Until(ctx, d.poll, d.IsTrafficStopped); err != nil {
		return errors.Wrap(err, "wait for traffic to stop")
	}
	d.log.Info("traffic stopped")
	return nil
}
