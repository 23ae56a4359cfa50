package broker

import (
	"fmt"
	"log/slog"

	"brokerhub/internal/config"
	"brokerhub/internal/domain"
)

// New builds the adapter selected by cfg.Broker.Name.
func New(cfg *config.Config, log *slog.Logger) (Broker, error) {
	switch cfg.Broker.Name {
	case "alpaca":
		return NewAlpacaBroker(AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			BaseURL:         cfg.Alpaca.BaseURL,
			DataURL:         cfg.Alpaca.DataURL,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
			Retries:         cfg.Alpaca.Retries,
			PollInterval:    cfg.Alpaca.PollInterval,
			Log:             log,
		}), nil
	case "simulator":
		return NewSimulatorFromConfig(cfg.Simulator, log), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker.Name)
	}
}

// NewSimulatorFromConfig builds a simulator holding the configured symbols
// at their configured prices.
func NewSimulatorFromConfig(sc config.Simulator, log *slog.Logger) *SimulatorBroker {
	syms := make([]domain.Symbol, 0, len(sc.Symbols))
	for _, s := range sc.Symbols {
		syms = append(syms, SymbolFromConfig(s))
	}
	sim := NewSimulatorBroker(sc.Cash, syms, log)
	for i, s := range sc.Symbols {
		if s.Price > 0 {
			sim.SetLastPrice(syms[i].Name, s.Price)
		}
	}
	return sim
}

// SymbolFromConfig converts a configured simulator symbol.
func SymbolFromConfig(s config.SimSymbol) domain.Symbol {
	name := s.Name
	if name == "" {
		name = domain.DisplayName(s.Board, s.Code)
	}
	return domain.Symbol{
		Board:    s.Board,
		Code:     s.Code,
		Name:     name,
		Decimals: s.Decimals,
		MinStep:  s.MinStep,
		LotSize:  s.LotSize,
	}
}
