package models

import (
	"errors"
	"fmt"
)

var (
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrLedgerInconsistency   = errors.New("ledger inconsistency")
	ErrInvalidSignal         = errors.New("invalid signal")
	ErrStrategyNotRegistered = errors.New("strategy not registered")
)

// ConfigurationError names the strategy and symbol that had no configuration.
type ConfigurationError struct {
	Strategy string
	Symbol   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no multi-timeframe configuration for %s:%s", e.Strategy, e.Symbol)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfigurationNotFound }
