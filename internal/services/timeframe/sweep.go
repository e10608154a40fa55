package timeframe

import (
	"context"
	"errors"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/logger"
)

var errAlreadyRunning = errors.New("expiry sweep already running")

// Start launches the periodic expiry sweep. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.cancel != nil {
		return errAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.sweepLoop(ctx, m.done)
	m.log.Info("expiry sweep started", logger.Duration("interval_ms", m.sweepInterval))
	return nil
}

// Stop cancels the sweep and waits for an in-flight cycle to finish, or for
// ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifecycle.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycle.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		m.log.Info("expiry sweep stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.SweepExpired(m.now()); n > 0 {
				m.log.Debug("expired signals evicted", logger.Int("count", n))
			}
		}
	}
}

// SweepExpired evicts active signals older than their max age at now and
// drops symbols left with no signals. It returns the number evicted.
func (m *Manager) SweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for symbol, bySymbol := range m.active {
		for tf, s := range bySymbol {
			if s.Age(now) > m.maxAgeLocked(symbol, tf) {
				delete(bySymbol, tf)
				evicted++
			}
		}
		if len(bySymbol) == 0 {
			delete(m.active, symbol)
		}
	}
	if evicted > 0 {
		m.metrics.RecordExpired(evicted)
	}
	return evicted
}

// maxAgeLocked is the longest max age any config assigns to (symbol, tf) as
// a confirmation or filter, or the default when none does.
func (m *Manager) maxAgeLocked(symbol string, tf models.Timeframe) time.Duration {
	var longest time.Duration
	for _, cfg := range m.configs {
		if cfg.Symbol != symbol {
			continue
		}
		for _, role := range [][]models.TimeframeConfig{cfg.Confirmations, cfg.Filters} {
			for _, tc := range role {
				if tc.Timeframe == tf && tc.MaxSignalAge > longest {
					longest = tc.MaxSignalAge
				}
			}
		}
	}
	if longest == 0 {
		return m.defaultMaxAge
	}
	return longest
}
