// Package transport picks the link a cycle publishes over: the RFM69
// radio when it answers, otherwise WiFi and an MQTT session.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-node/internal/encode"
	"cloudpico-node/internal/types"
	"cloudpico-node/internal/utils"
)

type Kind int

const (
	None Kind = iota
	Radio
	Network
)

func (k Kind) String() string {
	switch k {
	case Radio:
		return "radio"
	case Network:
		return "network"
	default:
		return "none"
	}
}

// Transport is an acquired link. It is torn down with Close before the
// node sleeps.
type Transport interface {
	Kind() Kind
	// Publish encodes r for the link and sends it, returning the payload
	// size.
	Publish(ctx context.Context, topic string, r types.Reading) (int, error)
	// Wait blocks for d or until the link reports an event that ends the
	// wait early.
	Wait(ctx context.Context, d time.Duration) error
	Close() error
}

// Sender is the radio capability the radio transport drives.
type Sender interface {
	Send(payload []byte) error
	Halt() error
}

type RadioTransport struct {
	dev    Sender
	closer func() error
	logger *slog.Logger
}

func NewRadio(dev Sender, closer func() error, logger *slog.Logger) *RadioTransport {
	return &RadioTransport{dev: dev, closer: closer, logger: logger}
}

func (t *RadioTransport) Kind() Kind { return Radio }

func (t *RadioTransport) Publish(_ context.Context, topic string, r types.Reading) (int, error) {
	frame, err := encode.Frame(topic, r)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}

	v, _ := encode.ParseFrame(frame)
	t.logger.Info("sending radio frame",
		"topic", v.Topic,
		"temperature", v.Temperature,
		"humidity", v.Humidity,
		"co2_ppm", v.CO2,
		"lux", v.Lux,
		"battery_level", v.Battery,
	)
	t.logger.Debug("radio frame", "bytes", len(frame), "hex", utils.BytesToHexBlocks(frame, 4))

	if err := t.dev.Send(frame); err != nil {
		return 0, fmt.Errorf("radio send: %w", err)
	}
	return len(frame), nil
}

// Wait is a plain timed wait; the radio never receives.
func (t *RadioTransport) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *RadioTransport) Close() error {
	err := t.dev.Halt()
	if t.closer != nil {
		if cerr := t.closer(); err == nil {
			err = cerr
		}
	}
	return err
}

// Session is the broker session the network transport publishes through.
type Session interface {
	Publish(topic string, payload []byte) error
	Wait(ctx context.Context, d time.Duration) error
	IsConnected() bool
	Disconnect()
}

// Detacher is notified before the session goes away.
type Detacher interface {
	Detach()
}

type NetworkTransport struct {
	session Session
	sink    Detacher
	logger  *slog.Logger
}

func NewNetwork(session Session, sink Detacher, logger *slog.Logger) *NetworkTransport {
	return &NetworkTransport{session: session, sink: sink, logger: logger}
}

func (t *NetworkTransport) Kind() Kind { return Network }

func (t *NetworkTransport) Publish(_ context.Context, topic string, r types.Reading) (int, error) {
	doc, err := encode.Text(r)
	if err != nil {
		return 0, err
	}
	payload, err := doc.Marshal()
	if err != nil {
		return 0, fmt.Errorf("marshal document: %w", err)
	}

	t.logger.Info("publishing", "topic", topic, "payload", string(payload))
	if err := t.session.Publish(topic, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// Wait returns early with the session's error when the broker connection
// drops.
func (t *NetworkTransport) Wait(ctx context.Context, d time.Duration) error {
	return t.session.Wait(ctx, d)
}

func (t *NetworkTransport) Close() error {
	if t.sink != nil {
		t.sink.Detach()
	}
	t.session.Disconnect()
	return nil
}
