package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/drivers/rfm69"
	"cloudpico-node/internal/encode"
	"cloudpico-node/internal/mqtt"
	"cloudpico-node/internal/power"
	"cloudpico-node/internal/supervisor"
	"cloudpico-node/internal/transport"
	"cloudpico-node/internal/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func ptr[T any](v T) *T { return &v }

type fakeCollector struct {
	r     types.Reading
	calls int
}

func (f *fakeCollector) Collect(context.Context) types.Reading {
	f.calls++
	return f.r
}

type fakeTransport struct {
	kind       transport.Kind
	published  []types.Reading
	publishErr error
	waits      []time.Duration
	// onWait runs on every Wait; a non-nil result is returned
	onWait func(n int) error
	closed int
}

func (f *fakeTransport) Kind() transport.Kind { return f.kind }

func (f *fakeTransport) Publish(_ context.Context, _ string, r types.Reading) (int, error) {
	if f.publishErr != nil {
		return 0, f.publishErr
	}
	f.published = append(f.published, r)
	return encode.FrameLen, nil
}

func (f *fakeTransport) Wait(_ context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	if f.onWait != nil {
		return f.onWait(len(f.waits))
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

type fakeSelector struct {
	t     transport.Transport
	err   error
	calls int
}

func (f *fakeSelector) Select(context.Context) (transport.Transport, error) {
	f.calls++
	if f.t == nil {
		return nil, f.err
	}
	return f.t, f.err
}

type fakeSleeper struct {
	slept []time.Duration
}

func (f *fakeSleeper) Suspend(_ context.Context, d time.Duration) error {
	f.slept = append(f.slept, d)
	return nil
}

type fakeFeeder struct{ feeds int }

func (f *fakeFeeder) Feed() { f.feeds++ }

type fakeBoard struct{ halted bool }

func (f *fakeBoard) Halt() error {
	f.halted = true
	return nil
}

func testConfig() config.Config {
	return config.Config{
		MQTTTopic:                "devices/terasa/shield",
		DeepSleepDuration:        42 * time.Second,
		SleepDurationShort:       ptr(10 * time.Second),
		BatteryCapacityThreshold: ptr(50.0),
		WatchdogTimeout:          60 * time.Second,
	}
}

type harness struct {
	collector *fakeCollector
	selector  *fakeSelector
	sleeper   *fakeSleeper
	feeder    *fakeFeeder
	board     *fakeBoard
}

func newHarness(r types.Reading, t transport.Transport, selErr error) *harness {
	return &harness{
		collector: &fakeCollector{r: r},
		selector:  &fakeSelector{t: t, err: selErr},
		sleeper:   &fakeSleeper{},
		feeder:    &fakeFeeder{},
		board:     &fakeBoard{},
	}
}

func (h *harness) node(cfg config.Config, mode power.Mode) *Node {
	return NewNode(cfg, NodeOpts{
		Sensors:  h.collector,
		Selector: h.selector,
		Power:    h.sleeper,
		Watchdog: h.feeder,
		Board:    h.board,
		Mode:     mode,
	}, discard)
}

func TestRun_Battery(t *testing.T) {
	tests := []struct {
		name      string
		reading   types.Reading
		transport *fakeTransport
		selErr    error
		wantSleep time.Duration
		wantSent  int
	}{
		{
			name:      "published, battery above threshold",
			reading:   types.Reading{Temperature: ptr(21.5), Battery: ptr(80.0)},
			transport: &fakeTransport{kind: transport.Radio},
			wantSleep: 10 * time.Second,
			wantSent:  1,
		},
		{
			name:      "published, battery at threshold",
			reading:   types.Reading{Temperature: ptr(21.5), Battery: ptr(50.0)},
			transport: &fakeTransport{kind: transport.Network},
			wantSleep: 42 * time.Second,
			wantSent:  1,
		},
		{
			name:      "no data",
			reading:   types.Reading{},
			transport: &fakeTransport{kind: transport.Network},
			wantSleep: 42 * time.Second,
		},
		{
			name:      "no transport",
			reading:   types.Reading{Battery: ptr(90.0)},
			wantSleep: 10 * time.Second,
		},
		{
			name:      "network unavailable",
			reading:   types.Reading{Battery: ptr(90.0)},
			selErr:    fmt.Errorf("%w: broker refused", transport.ErrNetworkUnavailable),
			wantSleep: 10 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr transport.Transport
			if tt.transport != nil {
				tr = tt.transport
			}
			h := newHarness(tt.reading, tr, tt.selErr)

			if err := h.node(testConfig(), power.Draining).Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(h.sleeper.slept) != 1 || h.sleeper.slept[0] != tt.wantSleep {
				t.Errorf("slept %v, want [%v]", h.sleeper.slept, tt.wantSleep)
			}
			if h.collector.calls != 1 || h.selector.calls != 1 {
				t.Errorf("collect=%d select=%d, want one each", h.collector.calls, h.selector.calls)
			}
			if h.feeder.feeds == 0 {
				t.Errorf("watchdog not fed before sleep")
			}
			if !h.board.halted {
				t.Errorf("sensors not halted before sleep")
			}
			if tt.transport != nil {
				if len(tt.transport.published) != tt.wantSent {
					t.Errorf("published %d, want %d", len(tt.transport.published), tt.wantSent)
				}
				if tt.transport.closed != 1 {
					t.Errorf("transport closed %d times, want 1", tt.transport.closed)
				}
			}
		})
	}
}

func TestRun_SelectorError(t *testing.T) {
	h := newHarness(types.Reading{}, nil, errors.New("radio init: spi: unexpected reply"))
	err := h.node(testConfig(), power.Draining).Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil")
	}
	if len(h.sleeper.slept) != 0 {
		t.Errorf("slept after selector error")
	}
}

func TestCycle_PublishFailureIsConnectivityFault(t *testing.T) {
	for _, cause := range []error{mqtt.ErrNotConnected, rfm69.ErrTimeout, errors.New("EOF")} {
		tr := &fakeTransport{kind: transport.Network, publishErr: cause}
		h := newHarness(types.Reading{Lux: ptr(120.0)}, tr, nil)

		err := h.node(testConfig(), power.Draining).Run(context.Background())
		var f *supervisor.Fault
		if !errors.As(err, &f) || f.Class != supervisor.Connectivity || !errors.Is(err, cause) {
			t.Errorf("Run() error = %v, want connectivity fault wrapping %v", err, cause)
		}
		if tr.closed != 1 {
			t.Errorf("transport closed %d times, want 1", tr.closed)
		}
	}
}

func TestCycle_Outcome(t *testing.T) {
	tr := &fakeTransport{kind: transport.Radio}
	h := newHarness(types.Reading{CO2: ptr(uint32(800))}, tr, nil)

	out, r, err := h.node(testConfig(), power.Draining).Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if out.Kind != Published || out.Bytes != encode.FrameLen {
		t.Errorf("Cycle() = %+v, want Published(%d)", out, encode.FrameLen)
	}
	if r.CO2 == nil || *r.CO2 != 800 {
		t.Errorf("reading = %+v", r)
	}
}

func TestRun_MainsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{kind: transport.Network}
	tr.onWait = func(n int) error {
		// two slices per iteration; stop during the third iteration
		if n == 5 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	h := newHarness(types.Reading{Temperature: ptr(20.0)}, tr, nil)

	err := h.node(testConfig(), power.Armed).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if h.selector.calls != 1 {
		t.Errorf("transport selected %d times, want 1", h.selector.calls)
	}
	if len(tr.published) != 3 {
		t.Errorf("published %d readings, want 3", len(tr.published))
	}
	want := []time.Duration{30 * time.Second, 12 * time.Second, 30 * time.Second, 12 * time.Second, 30 * time.Second}
	if fmt.Sprint(tr.waits) != fmt.Sprint(want) {
		t.Errorf("waits = %v, want %v", tr.waits, want)
	}
	// after each publish and after each completed wait slice
	if h.feeder.feeds != 3+4 {
		t.Errorf("feeds = %d, want 7", h.feeder.feeds)
	}
	if len(h.sleeper.slept) != 0 {
		t.Errorf("mains node entered deep sleep")
	}
	if tr.closed != 1 {
		t.Errorf("transport closed %d times, want 1", tr.closed)
	}
}

func TestRun_MainsConnectionLost(t *testing.T) {
	tr := &fakeTransport{kind: transport.Network}
	tr.onWait = func(int) error { return fmt.Errorf("%w: EOF", mqtt.ErrConnectionLost) }
	h := newHarness(types.Reading{Temperature: ptr(20.0)}, tr, nil)

	err := h.node(testConfig(), power.Armed).Run(context.Background())
	var f *supervisor.Fault
	if !errors.As(err, &f) || f.Class != supervisor.Connectivity || f.Op != "wait" {
		t.Fatalf("Run() error = %v, want connectivity fault in wait", err)
	}
}

func TestRun_MainsRetriesSelection(t *testing.T) {
	cfg := testConfig()
	cfg.DeepSleepDuration = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(types.Reading{Temperature: ptr(20.0)}, nil, nil)
	n := h.node(cfg, power.Armed)
	n.sensors = collectorFunc(func() types.Reading {
		if h.selector.calls == 3 {
			cancel()
		}
		return types.Reading{Temperature: ptr(20.0)}
	})

	if err := n.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if h.selector.calls != 3 {
		t.Errorf("selector called %d times, want 3", h.selector.calls)
	}
}

type collectorFunc func() types.Reading

func (f collectorFunc) Collect(context.Context) types.Reading { return f() }

type countingResetter struct{ hard, soft atomic.Int32 }

func (r *countingResetter) HardReset() error {
	r.hard.Add(1)
	return nil
}

func (r *countingResetter) SoftReload() error {
	r.soft.Add(1)
	return nil
}

func TestRun_BatteryLightSleepLongerThanWatchdog(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogTimeout = 200 * time.Millisecond
	cfg.LightSleepDuration = 500 * time.Millisecond
	cfg.DeepSleepCommand = "true"

	resets := &countingResetter{}
	sup := supervisor.New(supervisor.NewTimerWatchdog(), resets, cfg.WatchdogTimeout, 5*time.Millisecond, discard)
	sched, err := power.New(cfg, sup, discard)
	if err != nil {
		t.Fatalf("power.New() error = %v", err)
	}
	h := newHarness(types.Reading{Battery: ptr(90.0)}, nil, nil)
	node := NewNode(cfg, NodeOpts{
		Sensors:  h.collector,
		Selector: h.selector,
		Power:    sched,
		Watchdog: sup,
		Board:    h.board,
		Mode:     power.Draining,
	}, discard)

	if err := sup.Run(context.Background(), node.Run); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := resets.hard.Load() + resets.soft.Load(); n != 0 {
		t.Errorf("resets = %d, want 0", n)
	}
}
