package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/drivers/rfm69"
	"cloudpico-node/internal/hw"
	"cloudpico-node/internal/logging"
	"cloudpico-node/internal/mqtt"
	"cloudpico-node/internal/wifi"

	"periph.io/x/conn/v3/gpio"
)

// BrokerConnectTimeout bounds the MQTT CONNECT handshake.
const BrokerConnectTimeout = 10 * time.Second

// RadioDialer opens the RFM69 on the configured SPI port. A missing port
// or reset pin is reported as rfm69.ErrNotPresent.
func RadioDialer(cfg config.Config, logger *slog.Logger) Dialer {
	return func(context.Context) (Transport, error) {
		port, err := hw.OpenSPI(cfg.RadioSPI)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", rfm69.ErrNotPresent, err)
		}

		var reset gpio.PinOut
		if cfg.RadioResetPin != "" {
			pin, err := hw.Pin(cfg.RadioResetPin)
			if err != nil {
				port.Close()
				return nil, fmt.Errorf("%w: %v", rfm69.ErrNotPresent, err)
			}
			reset = pin
		}

		conn, err := rfm69.Connect(port)
		if err != nil {
			port.Close()
			return nil, err
		}
		dev, err := rfm69.New(conn, reset, nil)
		if err != nil {
			port.Close()
			return nil, err
		}

		if cfg.TxPower != nil && dev.HighPower() {
			logger.Debug("setting tx power", "dbm", *cfg.TxPower)
			if err := dev.SetTxPower(*cfg.TxPower); err != nil {
				port.Close()
				return nil, err
			}
		}
		if len(cfg.EncryptionKey) > 0 {
			logger.Debug("setting encryption key")
			if err := dev.SetEncryptionKey(cfg.EncryptionKey); err != nil {
				port.Close()
				return nil, err
			}
		}

		logger.Info("radio ready", "radio", dev.String(), "tx_power", dev.TxPower(), "encrypted", dev.Encrypted())
		return NewRadio(dev, port.Close, logger), nil
	}
}

// NetworkDialer associates with the access point and opens the broker
// session. When sink is not nil it starts forwarding logs over the new
// session.
func NetworkDialer(cfg config.Config, sink *logging.MQTTSink, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		assoc, err := wifi.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := assoc.Connect(ctx); err != nil {
			return nil, err
		}

		client, err := mqtt.NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		cctx, cancel := context.WithTimeout(ctx, BrokerConnectTimeout)
		defer cancel()
		if err := client.Connect(cctx); err != nil {
			client.Disconnect()
			return nil, fmt.Errorf("broker %s: %w", mqtt.BrokerURL(cfg), err)
		}

		if sink == nil {
			return NewNetwork(client, nil, logger), nil
		}
		sink.Attach(client)
		logger.Debug("forwarding logs", "topic", sink.Topic())
		return NewNetwork(client, sink, logger), nil
	}
}
