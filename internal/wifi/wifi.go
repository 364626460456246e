// Package wifi associates the node with an access point by running the
// configured network manager command.
package wifi

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cloudpico-node/internal/command"
	"cloudpico-node/internal/config"
)

// ConnectTimeout bounds a single association attempt.
const ConnectTimeout = 10 * time.Second

type Associator struct {
	tmpl    command.Template
	ssid    string
	pass    string
	timeout time.Duration
	run     command.Runner
	logger  *slog.Logger
}

func New(cfg config.Config, logger *slog.Logger) (*Associator, error) {
	tmpl, err := command.Parse(cfg.WiFiCommand)
	if err != nil {
		return nil, fmt.Errorf("wifi: %w", err)
	}
	return &Associator{
		tmpl:    tmpl,
		ssid:    cfg.SSID,
		pass:    cfg.Password,
		timeout: ConnectTimeout,
		// a little slack so the tool reports its own timeout first
		run:    command.Exec(ConnectTimeout + 2*time.Second),
		logger: logger,
	}, nil
}

// Connect runs the association command once.
func (a *Associator) Connect(ctx context.Context) error {
	argv := a.tmpl.Render(map[string]string{
		"ssid":     a.ssid,
		"password": a.pass,
		"timeout":  strconv.Itoa(int(a.timeout / time.Second)),
	})

	a.logger.Info("connecting to wifi", "ssid", a.ssid)
	start := time.Now()
	res, err := a.run(ctx, argv)
	if err != nil {
		return fmt.Errorf("wifi connect to %q: %w", a.ssid, err)
	}
	a.logger.Info("connected to wifi", "ssid", a.ssid, "took", time.Since(start).Round(time.Millisecond))
	if res.Stdout != "" {
		a.logger.Debug("wifi command output", "stdout", res.Stdout)
	}
	return nil
}
