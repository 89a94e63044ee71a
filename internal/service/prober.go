package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/contact-relay/internal/repo"
)

type ProbeTarget struct {
	Name   string
	Pinger repo.Pinger
}

// Prober keeps connection pools warm with a trivial round trip. It never
// writes and its failures are only logged.
type Prober struct {
	targets []ProbeTarget
	timeout time.Duration
	log     *slog.Logger
}

func NewProber(logger *slog.Logger, timeout time.Duration, targets ...ProbeTarget) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{
		targets: targets,
		timeout: timeout,
		log:     logger.With("component", "prober"),
	}
}

// Probe pings every target and returns how many failed.
func (p *Prober) Probe(ctx context.Context) int {
	failed := 0
	for _, t := range p.targets {
		pctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := t.Pinger.Ping(pctx)
		cancel()

		if err != nil {
			failed++
			p.log.Warn("keep-alive query failed", "target", t.Name, "error", err)
			continue
		}
		p.log.Debug("keep-alive ok", "target", t.Name)
	}
	return failed
}

func (p *Prober) Tick(ctx context.Context) {
	_ = p.Probe(ctx)
}
