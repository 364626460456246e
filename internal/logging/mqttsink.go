package logging

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Publisher delivers a payload to a topic. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// MQTTSink is a slog.Handler that forwards records to a log topic over an
// attached MQTT session. Records are dropped while no session is attached
// or the session is down; publish errors are ignored.
type MQTTSink struct {
	core *sinkCore
	h    slog.Handler
}

type sinkCore struct {
	topic string

	mu  sync.RWMutex
	pub Publisher

	// set while a record is being published so that records logged by the
	// publisher itself are dropped instead of recursing
	busy atomic.Bool

	dropped atomic.Uint64
}

func NewMQTTSink(topic string, level slog.Leveler) *MQTTSink {
	core := &sinkCore{topic: topic}
	h := slog.NewTextHandler(sinkWriter{core}, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// the broker timestamps messages on arrival
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return &MQTTSink{core: core, h: h}
}

// Attach starts forwarding records through p.
func (s *MQTTSink) Attach(p Publisher) {
	s.core.mu.Lock()
	s.core.pub = p
	s.core.mu.Unlock()
}

// Detach stops forwarding. Safe to call when nothing is attached.
func (s *MQTTSink) Detach() {
	s.core.mu.Lock()
	s.core.pub = nil
	s.core.mu.Unlock()
}

func (s *MQTTSink) Topic() string { return s.core.topic }

// Dropped returns the number of records that could not be forwarded.
func (s *MQTTSink) Dropped() uint64 { return s.core.dropped.Load() }

func (s *MQTTSink) Enabled(ctx context.Context, level slog.Level) bool {
	return s.h.Enabled(ctx, level)
}

func (s *MQTTSink) Handle(ctx context.Context, r slog.Record) error {
	if !s.core.busy.CompareAndSwap(false, true) {
		s.core.dropped.Add(1)
		return nil
	}
	defer s.core.busy.Store(false)
	return s.h.Handle(ctx, r)
}

func (s *MQTTSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &MQTTSink{core: s.core, h: s.h.WithAttrs(attrs)}
}

func (s *MQTTSink) WithGroup(name string) slog.Handler {
	return &MQTTSink{core: s.core, h: s.h.WithGroup(name)}
}

type sinkWriter struct {
	core *sinkCore
}

// Write receives exactly one formatted record per call.
func (w sinkWriter) Write(p []byte) (int, error) {
	w.core.mu.RLock()
	pub := w.core.pub
	w.core.mu.RUnlock()

	if pub == nil || !pub.IsConnected() {
		w.core.dropped.Add(1)
		return len(p), nil
	}
	msg := bytes.TrimRight(p, "\n")
	if err := pub.Publish(w.core.topic, append([]byte(nil), msg...)); err != nil {
		w.core.dropped.Add(1)
	}
	return len(p), nil
}
