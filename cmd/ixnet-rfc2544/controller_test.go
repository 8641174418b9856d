package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/config"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet/memstore"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnextgen"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/poll"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/profile"
	"github.com/krisarmstrong/ixnet-rfc2544/pkg/web"
)

func testConfig(resultDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.TrafficProfile = "profile.yaml"
	cfg.Poll = poll.Options{Interval: time.Millisecond, Timeout: time.Second}
	cfg.Simulator.TransitionPolls = 1
	cfg.Node = ixnextgen.NodeDescriptor{
		Name: "trafficgen_1",
		MgmtInterface: ixnextgen.MgmtInterface{
			IP: "152.16.100.20",
			TGConfig: ixnextgen.TGConfig{
				TCLPort:      "8009",
				IxChassis:    "1.1.1.1",
				DUTResultDir: resultDir,
				Version:      "8.01.106.3",
			},
		},
		VDU: []ixnextgen.VDU{{ExternalInterface: []ixnextgen.ExternalInterface{
			{Name: "xe0", VirtualInterface: ixnextgen.VirtualInterface{VPCI: "2:15"}},
			{Name: "xe1", VirtualInterface: ixnextgen.VirtualInterface{VPCI: "2:16"}},
		}}},
	}
	return cfg
}

func testProfile() *profile.Config {
	prof := profile.DefaultConfig()
	prof.FrameRate = "1000"
	prof.PacketSizes = map[string]int{"64B": 1}
	prof.Duration = time.Hour
	prof.Flows = profile.Traffic{
		{ID: 1, OuterL3: profile.L3Params{SrcIP: "152.16.100.20", DstIP: "152.16.40.20"}},
		{ID: 2, OuterL3: profile.L3Params{SrcIP: "152.16.40.20", DstIP: "152.16.100.20"}},
	}
	return prof
}

func newTestController(t *testing.T, cfg *config.Config) (*controller, *memstore.Store) {
	t.Helper()
	store, err := newSimulator(cfg.Simulator)
	require.NoError(t, err)
	ctl, err := newController(cfg, testProfile(), store, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { ctl.Close() })
	return ctl, store
}

func withProgressInterval(t *testing.T, d time.Duration) {
	t.Helper()
	old := progressInterval
	progressInterval = d
	t.Cleanup(func() { progressInterval = old })
}

func TestControllerDuration(t *testing.T) {
	cfg := testConfig(t.TempDir())
	ctl, _ := newTestController(t, cfg)

	assert.Equal(t, time.Hour, ctl.duration(0))
	cfg.Duration = time.Minute
	assert.Equal(t, time.Minute, ctl.duration(0))
	assert.Equal(t, 5*time.Second, ctl.duration(5*time.Second))
}

func TestControllerRun(t *testing.T) {
	withProgressInterval(t, 5*time.Millisecond)
	ctl, store := newTestController(t, testConfig(t.TempDir()))

	var mu sync.Mutex
	var statuses []string
	ctl.onStatus = func(status, msg string, elapsed, total time.Duration) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	}
	var last time.Duration
	ctl.onProgress = func(elapsed, total time.Duration) { last = elapsed }

	stats, err := ctl.Run(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, memstore.StateStopped, store.TrafficState())
	assert.Equal(t, 30*time.Millisecond, last)
	assert.Len(t, stats["Frames_Tx"], 2)
	assert.Equal(t, []string{"1.1.1.1/Card2/Port15", "1.1.1.1/Card2/Port16"}, stats["stat_name"])
	assert.Len(t, stats["Store-Forward_Avg_latency_ns"], 2)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, web.StatusRunning, statuses[0])
}

func TestControllerRunCancelled(t *testing.T) {
	withProgressInterval(t, time.Millisecond)
	ctl, store := newTestController(t, testConfig(t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	ctl.onProgress = func(elapsed, total time.Duration) { cancel() }

	_, err := ctl.Run(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, memstore.StateStopped, store.TrafficState())
}

// cancelWhenLocked cancels the trial the first time the traffic state is
// read mid-transition
type cancelWhenLocked struct {
	ixnet.Session
	cancel context.CancelFunc
}

func (s *cancelWhenLocked) GetAttribute(obj ixnet.Ref, name string) (string, error) {
	v, err := s.Session.GetAttribute(obj, name)
	if name == "-state" && v == memstore.StateLocked {
		s.cancel()
	}
	return v, err
}

func TestControllerCancelledWhileStarting(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Simulator.TransitionPolls = 5
	store, err := newSimulator(cfg.Simulator)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dialer := ixnet.DialerFunc(func(dctx context.Context, opts ixnet.DialOptions) (ixnet.Session, error) {
		sess, err := store.Dial(dctx, opts)
		if err != nil {
			return nil, err
		}
		return &cancelWhenLocked{Session: sess, cancel: cancel}, nil
	})
	ctl, err := newController(cfg, testProfile(), dialer, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { ctl.Close() })

	_, err = ctl.Run(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "start traffic")

	assert.Equal(t, memstore.StateStopped, store.TrafficState())
	var stops int
	for _, c := range store.Mutations() {
		if c.Verb == "execute" && len(c.Args) > 0 && c.Args[0] == "stop" {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

func TestControllerRunBadDescriptor(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Node.MgmtInterface.IP = ""
	ctl, _ := newTestController(t, cfg)

	_, err := ctl.Run(context.Background(), time.Millisecond)
	var mke *ixnextgen.MissingKeyError
	assert.ErrorAs(t, err, &mke)
	assert.Contains(t, err.Error(), "connect")
}

func TestControllerStartStop(t *testing.T) {
	withProgressInterval(t, time.Millisecond)
	ctl, store := newTestController(t, testConfig(t.TempDir()))

	final := make(chan string, 1)
	ctl.onStatus = func(status, msg string, elapsed, total time.Duration) {
		if status != web.StatusRunning {
			final <- status
		}
	}
	started := make(chan struct{})
	var once sync.Once
	ctl.onProgress = func(elapsed, total time.Duration) { once.Do(func() { close(started) }) }

	require.NoError(t, ctl.Start(context.Background(), time.Hour))
	assert.ErrorIs(t, ctl.Start(context.Background(), time.Hour), errTrialRunning)

	<-started
	state, err := ctl.TrafficState()
	require.NoError(t, err)
	assert.Equal(t, memstore.StateStarted, state)

	require.NoError(t, ctl.Stop())
	assert.Equal(t, web.StatusCancelled, <-final)
	assert.Equal(t, memstore.StateStopped, store.TrafficState())

	// a new trial can start once the last one is done
	require.NoError(t, ctl.Start(context.Background(), time.Millisecond))
	assert.Equal(t, web.StatusComplete, <-final)
	require.NoError(t, ctl.Stop())
}

func TestControllerReadsDoNotWaitForDriver(t *testing.T) {
	ctl, _ := newTestController(t, testConfig(t.TempDir()))

	ctl.mu.Lock()
	_, err := ctl.Statistics()
	assert.ErrorIs(t, err, web.ErrBusy)
	_, err = ctl.TrafficState()
	assert.ErrorIs(t, err, web.ErrBusy)
	ctl.mu.Unlock()

	// idle driver answers, here with not connected
	_, err = ctl.Statistics()
	assert.ErrorIs(t, err, ixnet.ErrNotConnected)
}

func TestControllerStopIdle(t *testing.T) {
	ctl, _ := newTestController(t, testConfig(t.TempDir()))
	assert.NoError(t, ctl.Stop())
}

func TestControllerSavesReport(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.OutputFormat = config.FormatJSON
	ctl, _ := newTestController(t, cfg)

	final := make(chan string, 1)
	ctl.onStatus = func(status, msg string, elapsed, total time.Duration) {
		if status != web.StatusRunning {
			final <- status
		}
	}
	require.NoError(t, ctl.Start(context.Background(), time.Millisecond))
	require.Equal(t, web.StatusComplete, <-final)

	// waits for the report to be written
	require.NoError(t, ctl.Stop())
	_, err := os.Stat(filepath.Join(dir, "statistics.json"))
	assert.NoError(t, err)
}

func TestNewSimulatorBadDownPort(t *testing.T) {
	_, err := newSimulator(config.SimulatorConfig{DownPorts: []string{"1.1.1.1;2"}})
	assert.Error(t, err)
}
