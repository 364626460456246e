package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/drivers/rfm69"
)

// ErrNetworkUnavailable wraps a failed WiFi association or broker connect
// after the radio was ruled out.
var ErrNetworkUnavailable = errors.New("network transport unavailable")

// Dialer acquires one transport.
type Dialer func(ctx context.Context) (Transport, error)

type Selector struct {
	cfg         config.Config
	dialRadio   Dialer
	dialNetwork Dialer
	logger      *slog.Logger
}

func NewSelector(cfg config.Config, dialRadio, dialNetwork Dialer, logger *slog.Logger) *Selector {
	return &Selector{
		cfg:         cfg,
		dialRadio:   dialRadio,
		dialNetwork: dialNetwork,
		logger:      logger,
	}
}

// Select tries the radio once and, if it is absent or does not answer,
// the network once. With neither available it returns (nil, nil); the
// cycle carries on without a transport.
//
// Any radio error falls back to the network. Errors other than
// not-present, bus and timeout are logged at error level.
func (s *Selector) Select(ctx context.Context) (Transport, error) {
	if s.cfg.RadioDisabled {
		s.logger.Debug("radio disabled")
	} else {
		t, err := s.dialRadio(ctx)
		if err == nil {
			s.logger.Info("transport selected", "kind", t.Kind())
			return t, nil
		}
		if radioUnavailable(err) {
			s.logger.Info("radio not available", "error", err)
		} else {
			s.logger.Error("radio init failed", "error", err)
		}
	}

	if !s.cfg.NetworkConfigured() {
		if missing := s.cfg.MissingNetworkKeys(); len(missing) < 3 {
			s.logger.Warn("incomplete network configuration", "missing", strings.Join(missing, ","))
		} else {
			s.logger.Info("no network configuration")
		}
		return nil, nil
	}

	t, err := s.dialNetwork(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	s.logger.Info("transport selected", "kind", t.Kind())
	return t, nil
}

func radioUnavailable(err error) bool {
	return errors.Is(err, rfm69.ErrNotPresent) ||
		errors.Is(err, rfm69.ErrBus) ||
		errors.Is(err, rfm69.ErrTimeout)
}
