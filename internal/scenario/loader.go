// Package scenario loads and runs scripted trading sessions against a factory.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Action is the kind of a step.
type Action string

const (
	ActionRegister Action = "register"
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name string `yaml:"name"`
	// Accounts maps account names to their starting ETH balance in whole units.
	Accounts map[string]string `yaml:"accounts"`
	Markets  []MarketScript    `yaml:"markets"`
}

// MarketScript is the ordered list of steps against one content token.
type MarketScript struct {
	ContentID        string `yaml:"content_id"`
	Name             string `yaml:"name"`
	Symbol           string `yaml:"symbol"`
	URI              string `yaml:"uri"`
	PlatformReferrer string `yaml:"platform_referrer"`
	Steps            []Step `yaml:"steps"`
}

// Step is one register, buy or sell. Amounts are in whole units. Tokens on a
// sell also accepts "all" and "half" of the account balance.
type Step struct {
	Action      Action `yaml:"action"`
	Account     string `yaml:"account"`
	Recipient   string `yaml:"recipient"`
	Refund      string `yaml:"refund"`
	Referrer    string `yaml:"referrer"`
	Eth         string `yaml:"eth"`
	Tokens      string `yaml:"tokens"`
	MinOut      string `yaml:"min_out"`
	PriceLimit  string `yaml:"price_limit"`
	MarketType  string `yaml:"market_type"`
	Comment     string `yaml:"comment"`
	ExpectError string `yaml:"expect_error"`
}

// Manager loads scenario definitions.
type Manager struct {
	logger *zap.Logger
}

// NewManager constructs a Manager with the given logger.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger.Named("scenario")}
}

// LoadFile reads a scenario from a YAML file.
func (m *Manager) LoadFile(path string) (*Scenario, error) {
	if filepath.IsAbs(path) {
		m.logger.Debug("Using absolute path for scenario file", zap.String("path", path))
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	sc, err := m.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario.
func (m *Manager) Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(sc.Markets) == 0 {
		return nil, fmt.Errorf("no markets found in scenario")
	}

	seen := make(map[string]bool, len(sc.Markets))
	steps := 0
	for i := range sc.Markets {
		ms := &sc.Markets[i]
		if ms.ContentID == "" {
			return nil, fmt.Errorf("market %d: content_id is required", i)
		}
		if seen[ms.ContentID] {
			return nil, fmt.Errorf("market %q listed twice", ms.ContentID)
		}
		seen[ms.ContentID] = true

		for j := range ms.Steps {
			if err := validateStep(&ms.Steps[j]); err != nil {
				return nil, fmt.Errorf("market %q step %d: %w", ms.ContentID, j, err)
			}
		}
		steps += len(ms.Steps)
	}

	m.logger.Info("Loaded scenario",
		zap.String("name", sc.Name),
		zap.Int("markets", len(sc.Markets)),
		zap.Int("steps", steps))
	return &sc, nil
}

func validateStep(s *Step) error {
	s.Action = Action(strings.ToLower(strings.TrimSpace(string(s.Action))))
	if s.Account == "" {
		return fmt.Errorf("account is required")
	}
	switch s.Action {
	case ActionRegister:
	case ActionBuy:
		if s.Eth == "" {
			return fmt.Errorf("buy needs eth")
		}
	case ActionSell:
		if s.Tokens == "" {
			return fmt.Errorf("sell needs tokens")
		}
	default:
		return fmt.Errorf("unsupported action: %q", s.Action)
	}
	return nil
}
