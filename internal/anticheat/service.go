package anticheat

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"debugarena/internal/domain"
	"debugarena/internal/errors"
)

var cheatEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "debugarena_cheat_events_total",
	Help: "Advisory anti-cheat events recorded, by kind.",
}, []string{"kind"})

// Store appends cheat events. The core never reads them back.
type Store interface {
	InsertCheatEvent(ctx context.Context, e domain.CheatEvent) error
}

type Config struct {
	Store Store
}

// Service is the append-only anti-cheat log. Purely observational: nothing
// here feeds back into scoring or session gating.
type Service struct {
	store Store
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

// Record appends one event and bumps the per-kind counter.
func (s *Service) Record(ctx context.Context, e domain.CheatEvent) error {
	switch e.Kind {
	case domain.CheatKindTabSwitch, domain.CheatKindCopyPaste:
	default:
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown cheat event kind: %q", e.Kind))
	}

	if err := s.store.InsertCheatEvent(ctx, e); err != nil {
		return fmt.Errorf("insert cheat event: %w", err)
	}

	cheatEventsTotal.WithLabelValues(e.Kind).Inc()
	return nil
}
