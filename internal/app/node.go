package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/encode"
	"cloudpico-node/internal/power"
	"cloudpico-node/internal/supervisor"
	"cloudpico-node/internal/transport"
	"cloudpico-node/internal/types"
)

type OutcomeKind int

const (
	Published OutcomeKind = iota
	NoData
	TransportUnavailable
)

func (k OutcomeKind) String() string {
	switch k {
	case Published:
		return "published"
	case NoData:
		return "no_data"
	default:
		return "transport_unavailable"
	}
}

// CycleOutcome is the result of one pass. Bytes is set for Published.
type CycleOutcome struct {
	Kind  OutcomeKind
	Bytes int
}

type Collector interface {
	Collect(ctx context.Context) types.Reading
}

type Selector interface {
	Select(ctx context.Context) (transport.Transport, error)
}

type Sleeper interface {
	Suspend(ctx context.Context, d time.Duration) error
}

type Feeder interface {
	Feed()
}

type Halter interface {
	Halt() error
}

// Node is one telemetry node: it reads its sensors, publishes over the
// selected transport and then either waits for the next cycle or sleeps.
type Node struct {
	cfg      config.Config
	sensors  Collector
	selector Selector
	power    Sleeper
	watchdog Feeder
	board    Halter
	mode     power.Mode
	logger   *slog.Logger

	tr transport.Transport
}

type NodeOpts struct {
	Sensors  Collector
	Selector Selector
	Power    Sleeper
	Watchdog Feeder
	// Board is halted before deep sleep; may be nil.
	Board Halter
	Mode  power.Mode
}

func NewNode(cfg config.Config, opts NodeOpts, logger *slog.Logger) *Node {
	return &Node{
		cfg:      cfg,
		sensors:  opts.Sensors,
		selector: opts.Selector,
		power:    opts.Power,
		watchdog: opts.Watchdog,
		board:    opts.Board,
		mode:     opts.Mode,
		logger:   logger,
	}
}

// Run performs a single cycle followed by deep sleep on battery power, or
// cycles until ctx is done on mains power.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info("power mode", "mode", n.mode.String())
	defer n.closeTransport()

	if n.mode == power.Armed {
		return n.loop(ctx)
	}

	out, r, err := n.Cycle(ctx)
	n.closeTransport()
	if err != nil {
		return err
	}
	n.logger.Info("cycle finished", "outcome", out.Kind.String(), "bytes", out.Bytes)
	n.watchdog.Feed()

	if n.board != nil {
		if err := n.board.Halt(); err != nil {
			n.logger.Warn("halting sensors failed", "error", err)
		}
	}
	return n.power.Suspend(ctx, power.DeepSleepDuration(n.cfg, r.Battery))
}

func (n *Node) loop(ctx context.Context) error {
	for {
		out, _, err := n.Cycle(ctx)
		if err != nil {
			return err
		}
		n.logger.Info("cycle finished", "outcome", out.Kind.String(), "bytes", out.Bytes)
		n.watchdog.Feed()

		if err := n.wait(ctx, n.cfg.DeepSleepDuration); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &supervisor.Fault{Class: supervisor.Connectivity, Op: "wait", Err: err}
		}
	}
}

// wait waits on the transport in slices short enough to keep the watchdog
// fed, so the wait interval may exceed the watchdog timeout.
func (n *Node) wait(ctx context.Context, d time.Duration) error {
	slice := n.cfg.WatchdogTimeout / 2
	if slice <= 0 {
		slice = d
	}
	for d > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := min(d, slice)
		var err error
		if n.tr != nil {
			err = n.tr.Wait(ctx, step)
		} else {
			err = sleepCtx(ctx, step)
		}
		if err != nil {
			return err
		}
		n.watchdog.Feed()
		d -= step
	}
	return nil
}

// Cycle acquires a transport if none is held, reads the sensors and
// publishes the reading. Acquisition failures end up as
// TransportUnavailable; a failed publish on an established transport is a
// connectivity fault.
func (n *Node) Cycle(ctx context.Context) (CycleOutcome, types.Reading, error) {
	if n.tr == nil {
		tr, err := n.selector.Select(ctx)
		switch {
		case errors.Is(err, transport.ErrNetworkUnavailable):
			n.logger.Error("could not acquire a transport", "error", err)
		case err != nil:
			return CycleOutcome{}, types.Reading{}, err
		}
		n.tr = tr
	}

	r := n.sensors.Collect(ctx)

	if n.tr == nil {
		n.logger.Warn("no transport available, reading not sent")
		return CycleOutcome{Kind: TransportUnavailable}, r, nil
	}
	if r.Empty() {
		n.logger.Warn("no sensor data to send")
		return CycleOutcome{Kind: NoData}, r, nil
	}

	sent, err := n.tr.Publish(ctx, n.cfg.MQTTTopic, r)
	switch {
	case err == nil:
		return CycleOutcome{Kind: Published, Bytes: sent}, r, nil
	case errors.Is(err, encode.ErrNothingToSend):
		n.logger.Warn("no sensor data to send")
		return CycleOutcome{Kind: NoData}, r, nil
	case errors.Is(err, encode.ErrTopicTooLong), errors.Is(err, encode.ErrTopicNotASCII):
		return CycleOutcome{}, r, fmt.Errorf("publish: %w", err)
	default:
		return CycleOutcome{}, r, &supervisor.Fault{Class: supervisor.Connectivity, Op: "publish", Err: err}
	}
}

func (n *Node) closeTransport() {
	if n.tr == nil {
		return
	}
	kind := n.tr.Kind()
	if err := n.tr.Close(); err != nil {
		n.logger.Warn("closing transport failed", "kind", kind.String(), "error", err)
	}
	n.tr = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
