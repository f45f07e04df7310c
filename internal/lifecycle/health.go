package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Proton-105/soberdays-bot/internal/health"
)

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes answers liveness from process state and readiness from the component checker.
type Probes struct {
	checker *health.Checker
	log     *slog.Logger
}

// NewProbes creates a new Probes instance. A nil checker makes the process ready as soon as it is live.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{checker: checker, log: log}
}

// Liveness reports success while the process is serving.
func (p *Probes) Liveness(context.Context) error {
	return nil
}

// Readiness fails when any dependency check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	if p.checker == nil {
		return nil
	}

	report := p.checker.Check(ctx)
	if report.Healthy {
		return nil
	}

	failed := report.Failed()
	p.log.Warn("readiness probe failed", slog.Any("components", failed))
	return fmt.Errorf("unhealthy components: %s", strings.Join(failed, ", "))
}

// Report exposes the full component report for diagnostics.
func (p *Probes) Report(ctx context.Context) health.Report {
	if p.checker == nil {
		return health.Report{Healthy: true, Components: map[string]string{}}
	}
	return p.checker.Check(ctx)
}
