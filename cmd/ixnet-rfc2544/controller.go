package main

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/config"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet/memstore"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnextgen"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/poll"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/profile"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/report"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/web"
)

var errTrialRunning = errors.New("a trial is already running")

// progressInterval is how often a running trial reports elapsed time
var progressInterval = time.Second

// newSimulator builds the in-memory generator configured under simulator:
func newSimulator(cfg config.SimulatorConfig) (*memstore.Store, error) {
	down, err := cfg.DownPortLocations()
	if err != nil {
		return nil, err
	}
	return memstore.New(
		memstore.WithDownPorts(down...),
		memstore.WithTransitionPolls(cfg.TransitionPolls),
		memstore.WithSyntheticStats(),
	), nil
}

// controller runs trials on one driver. Driver calls are serialized so the
// front ends can read statistics while a trial waits out its duration.
type controller struct {
	cfg     *config.Config
	traffic profile.Traffic
	profDur time.Duration
	log     *zap.Logger

	mu  sync.Mutex
	drv *ixnextgen.Driver

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// hooks, all optional
	onStatus   func(status, msg string, elapsed, total time.Duration)
	onStats    func(ixnextgen.Statistics)
	onProgress func(elapsed, total time.Duration)
}

func newController(cfg *config.Config, prof *profile.Config, dialer ixnet.Dialer, lg *zap.Logger) (*controller, error) {
	traffic, err := prof.Traffic()
	if err != nil {
		return nil, err
	}
	return &controller{
		cfg:     cfg,
		traffic: traffic,
		profDur: prof.Duration,
		log:     lg,
		drv: ixnextgen.New(dialer,
			ixnextgen.WithLogger(lg.Named("ixnextgen")),
			ixnextgen.WithPollOptions(cfg.Poll)),
	}, nil
}

// duration picks the override, then the config, then the profile
func (c *controller) duration(override time.Duration) time.Duration {
	switch {
	case override > 0:
		return override
	case c.cfg.Duration > 0:
		return c.cfg.Duration
	}
	return c.profDur
}

func (c *controller) stopTimeout() time.Duration {
	if c.cfg.Poll.Timeout > 0 {
		return c.cfg.Poll.Timeout
	}
	return poll.DefaultTimeout
}

func (c *controller) do(fn func(d *ixnextgen.Driver) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.drv)
}

// tryDo is do for read-only callers, which give up with web.ErrBusy rather
// than wait out a start or stop poll
func (c *controller) tryDo(fn func(d *ixnextgen.Driver) error) error {
	if !c.mu.TryLock() {
		return web.ErrBusy
	}
	defer c.mu.Unlock()
	return fn(c.drv)
}

func (c *controller) status(status, msg string, elapsed, total time.Duration) {
	if c.onStatus != nil {
		c.onStatus(status, msg, elapsed, total)
	}
}

// Run executes one trial and returns its statistics
func (c *controller) Run(ctx context.Context, override time.Duration) (ixnextgen.Statistics, error) {
	dur := c.duration(override)
	c.log.Info("starting trial", zap.Duration("duration", dur), zap.Int("flows", len(c.traffic)))
	c.status(web.StatusRunning, "configuring", 0, dur)

	steps := []struct {
		name string
		fn   func(d *ixnextgen.Driver) error
	}{
		{"connect", func(d *ixnextgen.Driver) error { return d.Connect(ctx, c.cfg.Node) }},
		{"clear config", func(d *ixnextgen.Driver) error { return d.ClearConfig() }},
		{"assign ports", func(d *ixnextgen.Driver) error { return d.AssignPorts() }},
		{"create traffic model", func(d *ixnextgen.Driver) error { return d.CreateTrafficModel() }},
		{"update frame", func(d *ixnextgen.Driver) error { return d.UpdateFrame(c.traffic, dur) }},
		{"update ip packet", func(d *ixnextgen.Driver) error { return d.UpdateIPPacket(c.traffic) }},
		{"update l4", func(d *ixnextgen.Driver) error { return d.UpdateL4(c.traffic) }},
		{"start traffic", func(d *ixnextgen.Driver) error { return d.StartTraffic(ctx) }},
	}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.log.Debug("trial step", zap.String("step", step.name))
		if err := c.do(step.fn); err != nil {
			// start may have gone out before the wait for "started" failed
			if i == len(steps)-1 {
				c.abandon()
			}
			return nil, errors.Wrap(err, step.name)
		}
	}

	if err := c.wait(ctx, dur); err != nil {
		c.abandon()
		return nil, err
	}

	if err := c.do(func(d *ixnextgen.Driver) error { return d.StopTraffic(ctx) }); err != nil {
		return nil, errors.Wrap(err, "stop traffic")
	}

	var stats ixnextgen.Statistics
	if err := c.do(func(d *ixnextgen.Driver) (err error) {
		stats, err = d.GetStatistics()
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "get statistics")
	}
	if c.onStats != nil {
		c.onStats(stats)
	}
	c.log.Info("trial complete", zap.Int("statistics", len(stats)))
	return stats, nil
}

// abandon leaves the generator idle after a failed or cancelled trial
func (c *controller) abandon() {
	ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout())
	defer cancel()
	if err := c.do(func(d *ixnextgen.Driver) error { return d.StopTraffic(ctx) }); err != nil {
		c.log.Warn("failed to stop traffic", zap.Error(err))
	}
}

func (c *controller) wait(ctx context.Context, dur time.Duration) error {
	start := time.Now()
	timer := time.NewTimer(dur)
	defer timer.Stop()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if c.onProgress != nil {
				c.onProgress(dur, dur)
			}
			return nil
		case <-ticker.C:
			elapsed := time.Since(start)
			if c.onProgress != nil {
				c.onProgress(elapsed, dur)
			}
			c.status(web.StatusRunning, "traffic running", elapsed, dur)
			if c.onStats != nil {
				if stats, err := c.Statistics(); err == nil {
					c.onStats(stats)
				}
			}
		}
	}
}

// Start runs a trial in the background; its outcome is reported through the
// hooks and saved to the node result directory
func (c *controller) Start(ctx context.Context, override time.Duration) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return errTrialRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	go func() {
		defer close(done)
		defer func() {
			c.runMu.Lock()
			c.cancel, c.done = nil, nil
			c.runMu.Unlock()
			cancel()
		}()

		dur := c.duration(override)
		stats, err := c.Run(ctx, override)
		switch {
		case errors.Is(err, context.Canceled):
			c.log.Warn("trial cancelled")
			c.status(web.StatusCancelled, "trial cancelled", 0, dur)
		case err != nil:
			c.log.Error("trial failed", zap.Error(err))
			c.status(web.StatusError, err.Error(), 0, dur)
		default:
			c.status(web.StatusComplete, "trial complete", dur, dur)
			c.save(stats)
		}
	}()
	return nil
}

// Stop cancels a running trial, or stops traffic left running on the generator
func (c *controller) Stop() error {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		return nil
	}
	ctx, stop := context.WithTimeout(context.Background(), c.stopTimeout())
	defer stop()
	err := c.do(func(d *ixnextgen.Driver) error { return d.StopTraffic(ctx) })
	if errors.Is(err, ixnet.ErrNotConnected) {
		return nil
	}
	return err
}

// Statistics reads the current statistics views
func (c *controller) Statistics() (ixnextgen.Statistics, error) {
	var stats ixnextgen.Statistics
	err := c.tryDo(func(d *ixnextgen.Driver) (err error) {
		stats, err = d.GetStatistics()
		return err
	})
	return stats, err
}

// TrafficState returns the raw generator traffic state
func (c *controller) TrafficState() (string, error) {
	var state string
	err := c.tryDo(func(d *ixnextgen.Driver) (err error) {
		state, err = d.TrafficState()
		return err
	})
	return state, err
}

// save writes the report into the node result directory, if one is set
func (c *controller) save(stats ixnextgen.Statistics) string {
	conn, err := ixnextgen.GetConfig(c.cfg.Node)
	if err != nil || conn.OutputDir == "" {
		return ""
	}
	path, err := report.SaveToDir(conn.OutputDir, stats, report.Format(c.cfg.OutputFormat))
	if err != nil {
		c.log.Error("failed to save statistics", zap.Error(err))
		return ""
	}
	c.log.Info("statistics saved", zap.String("path", path))
	return path
}

// Close releases the generator session
func (c *controller) Close() error {
	return c.do(func(d *ixnextgen.Driver) error { return d.Close() })
}
