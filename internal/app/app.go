package app

import (
	"context"
	"log/slog"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/hw"
	"cloudpico-node/internal/logging"
	"cloudpico-node/internal/power"
	"cloudpico-node/internal/sensor"
	"cloudpico-node/internal/supervisor"
	"cloudpico-node/internal/transport"
)

// Run wires the node from cfg and runs it under the supervisor. sink may
// be nil when no log topic is configured.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, sink *logging.MQTTSink) error {
	logger.Info("initializing node",
		"mqtt_topic", cfg.MQTTTopic,
		"broker", cfg.Broker,
		"broker_port", cfg.BrokerPort,
		"radio_disabled", cfg.RadioDisabled,
	)

	if err := hw.Init(logger); err != nil {
		logger.Warn("host init failed; continuing without hardware", "error", err)
	}

	board := &sensor.Board{}
	if bus, err := hw.OpenI2C(cfg.I2CBus); err != nil {
		logger.Warn("i2c bus not available; no sensors", "error", err)
	} else {
		defer bus.Close()
		board = sensor.Probe(bus, cfg, logger)
	}

	var wd supervisor.Watchdog = supervisor.NewTimerWatchdog()
	if cfg.WatchdogDevice != "" {
		dev, err := supervisor.OpenDevice(cfg.WatchdogDevice)
		if err != nil {
			logger.Warn("watchdog device not available; using timer", "device", cfg.WatchdogDevice, "error", err)
		} else {
			wd = dev
		}
	}
	sup := supervisor.New(wd, supervisor.SystemResetter{}, cfg.WatchdogTimeout, cfg.FaultGracePeriod, logger)

	sched, err := power.New(cfg, sup, logger)
	if err != nil {
		if derr := wd.Disarm(); derr != nil {
			logger.Warn("watchdog disarm failed", "error", derr)
		}
		return err
	}

	node := NewNode(cfg, NodeOpts{
		Sensors: sensor.NewAggregator(board.Sources, cfg.CO2PollInterval, logger),
		Selector: transport.NewSelector(cfg,
			transport.RadioDialer(cfg, logger),
			transport.NetworkDialer(cfg, sink, logger),
			logger,
		),
		Power:    sched,
		Watchdog: sup,
		Board:    board,
		Mode:     power.ModeFor(board.HasBattery()),
	}, logger)

	return sup.Run(ctx, node.Run)
}
