package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trading-riskv1/internal/model"
)

// Amount is a decimal that decodes from a YAML number or string without
// passing through float64.
type Amount struct{ decimal.Decimal }

func (a *Amount) UnmarshalYAML(n *yaml.Node) error {
	d, err := decimal.NewFromString(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	a.Decimal = d
	return nil
}

// SeedPosition is one externally opened position in the seed file.
type SeedPosition struct {
	Token      string    `yaml:"token"`
	Symbol     string    `yaml:"symbol"`
	Exchange   string    `yaml:"exchange"`
	EntryPrice Amount    `yaml:"entry_price"`
	Qty        int64     `yaml:"qty"`
	InitialQty int64     `yaml:"initial_qty"`
	BookedPnL  Amount    `yaml:"booked_pnl"`
	StopLoss   Amount    `yaml:"stop_loss"`
	Target     Amount    `yaml:"target"`
	EntryTime  time.Time `yaml:"entry_time"`
	AutoExit   bool      `yaml:"auto_exit"`
	LastPrice  Amount    `yaml:"last_price"`
}

// Seed is the YAML document read by LoadSeed.
type Seed struct {
	RiskPool struct {
		AvailableRisk Amount `yaml:"available_risk"`
		UsedRisk      Amount `yaml:"used_risk"`
	} `yaml:"risk_pool"`
	Positions []SeedPosition `yaml:"positions"`
}

// Pool returns the seeded risk pool.
func (s *Seed) Pool() model.RiskPool {
	return model.RiskPool{AvailableRisk: s.RiskPool.AvailableRisk.Decimal, UsedRisk: s.RiskPool.UsedRisk.Decimal}
}

// ModelPositions converts the seed entries, validating each.
func (s *Seed) ModelPositions() ([]model.Position, error) {
	out := make([]model.Position, 0, len(s.Positions))
	seen := make(map[string]bool, len(s.Positions))
	for i, sp := range s.Positions {
		p := model.Position{
			Token:      sp.Token,
			Symbol:     sp.Symbol,
			Exchange:   sp.Exchange,
			EntryPrice: sp.EntryPrice.Decimal,
			CurrentQty: sp.Qty,
			InitialQty: sp.InitialQty,
			BookedPnL:  sp.BookedPnL.Decimal,
			StopLoss:   sp.StopLoss.Decimal,
			Target:     sp.Target.Decimal,
			EntryTime:  sp.EntryTime,
			AutoExit:   sp.AutoExit,
			LastPrice:  sp.LastPrice.Decimal,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("positions[%d]: %w", i, err)
		}
		if p.Symbol == "" {
			return nil, fmt.Errorf("positions[%d] %s: symbol is required", i, p.Token)
		}
		if seen[p.Token] {
			return nil, fmt.Errorf("positions[%d]: duplicate token %s", i, p.Token)
		}
		seen[p.Token] = true
		out = append(out, p)
	}
	return out, nil
}

// LoadSeed reads the YAML seed at path.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	if err := s.Pool().Validate(); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return &s, nil
}
