package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Asset class identifiers. Every tradable symbol resolves to exactly one
// class; the class selects the TP/SL parameter profile and ensemble weights.
const (
	ClassForexMajor  = "FOREX_MAJOR"
	ClassForexMinor  = "FOREX_MINOR"
	ClassForexExotic = "FOREX_EXOTIC"
	ClassCrypto      = "CRYPTO"
	ClassMetals      = "METALS"
	ClassIndices     = "INDICES"
	ClassCommodities = "COMMODITIES"
	ClassStocks      = "STOCKS"
)

// ClassParams holds the per-asset-class TP/SL tuning profile.
type ClassParams struct {
	ATRTPMult      float64 `yaml:"atr_tp_mult"`      // TP distance = ATR × this
	ATRSLMult      float64 `yaml:"atr_sl_mult"`      // SL distance = ATR × this
	MaxTPPct       float64 `yaml:"max_tp_pct"`       // TP distance cap as % of entry
	MinSLPct       float64 `yaml:"min_sl_pct"`       // SL distance floor as % of entry
	FallbackATRPct float64 `yaml:"fallback_atr_pct"` // synthetic ATR as % of entry when ATR unavailable
	TrailingMult   float64 `yaml:"trailing_mult"`    // trailing distance scale factor
}

// SymbolOverride tunes individual symbols away from their class profile.
// Pointer fields so absent keys inherit the class value.
type SymbolOverride struct {
	Class          string   `yaml:"class,omitempty"`
	ATRTPMult      *float64 `yaml:"atr_tp_mult,omitempty"`
	ATRSLMult      *float64 `yaml:"atr_sl_mult,omitempty"`
	MaxTPPct       *float64 `yaml:"max_tp_pct,omitempty"`
	MinSLPct       *float64 `yaml:"min_sl_pct,omitempty"`
	FallbackATRPct *float64 `yaml:"fallback_atr_pct,omitempty"`
	TrailingMult   *float64 `yaml:"trailing_mult,omitempty"`
	MinConfidence  *float64 `yaml:"min_confidence,omitempty"` // per-symbol auto-trade confidence floor
}

// CorrelationGroup declares symbols whose exposure is capped together when
// they share a directional bias.
type CorrelationGroup struct {
	Name             string   `yaml:"name"`
	Symbols          []string `yaml:"symbols"`
	MaxSameDirection int      `yaml:"max_same_direction"`
}

// SymbolRules is the full symbol rule set loaded from configs/symbol_rules.yaml.
// Ensemble weights come from offline backtest runs and are treated as an input
// artifact, never recomputed at runtime.
type SymbolRules struct {
	DefaultClass      string                        `yaml:"default_class"`
	Classes           map[string]ClassParams        `yaml:"classes"`
	Symbols           map[string]string             `yaml:"symbols"` // symbol -> class
	Overrides         map[string]SymbolOverride     `yaml:"overrides"`
	CorrelationGroups []CorrelationGroup            `yaml:"correlation_groups"`
	EnsembleWeights   map[string]map[string]float64 `yaml:"ensemble_weights"` // class -> indicator -> weight
}

// DefaultSymbolRules returns the built-in rule set. The YAML file overlays
// these values; missing sections keep the defaults.
func DefaultSymbolRules() *SymbolRules {
	return &SymbolRules{
		DefaultClass: ClassForexMinor,
		Classes: map[string]ClassParams{
			ClassForexMajor:  {ATRTPMult: 2.0, ATRSLMult: 1.2, MaxTPPct: 1.0, MinSLPct: 0.15, FallbackATRPct: 0.08, TrailingMult: 0.8},
			ClassForexMinor:  {ATRTPMult: 2.5, ATRSLMult: 1.3, MaxTPPct: 1.2, MinSLPct: 0.20, FallbackATRPct: 0.12, TrailingMult: 0.9},
			ClassForexExotic: {ATRTPMult: 3.0, ATRSLMult: 1.5, MaxTPPct: 2.0, MinSLPct: 0.50, FallbackATRPct: 0.20, TrailingMult: 1.0},
			ClassCrypto:      {ATRTPMult: 1.8, ATRSLMult: 1.0, MaxTPPct: 5.0, MinSLPct: 1.00, FallbackATRPct: 2.00, TrailingMult: 0.7},
			ClassMetals:      {ATRTPMult: 2.2, ATRSLMult: 1.2, MaxTPPct: 2.0, MinSLPct: 0.50, FallbackATRPct: 0.80, TrailingMult: 0.8},
			ClassIndices:     {ATRTPMult: 2.0, ATRSLMult: 1.2, MaxTPPct: 1.5, MinSLPct: 0.30, FallbackATRPct: 0.60, TrailingMult: 0.9},
			ClassCommodities: {ATRTPMult: 2.5, ATRSLMult: 1.5, MaxTPPct: 3.0, MinSLPct: 0.80, FallbackATRPct: 1.50, TrailingMult: 1.0},
			ClassStocks:      {ATRTPMult: 2.0, ATRSLMult: 1.3, MaxTPPct: 2.0, MinSLPct: 0.50, FallbackATRPct: 1.00, TrailingMult: 0.9},
		},
		Symbols: map[string]string{
			"EURUSD": ClassForexMajor, "GBPUSD": ClassForexMajor, "USDJPY": ClassForexMajor,
			"USDCHF": ClassForexMajor, "AUDUSD": ClassForexMajor, "USDCAD": ClassForexMajor,
			"NZDUSD": ClassForexMajor,
			"EURGBP": ClassForexMinor, "EURJPY": ClassForexMinor, "GBPJPY": ClassForexMinor,
			"EURCHF": ClassForexMinor, "AUDJPY": ClassForexMinor, "CADJPY": ClassForexMinor,
			"EURAUD": ClassForexMinor, "GBPCHF": ClassForexMinor,
			"USDTRY": ClassForexExotic, "USDZAR": ClassForexExotic, "USDMXN": ClassForexExotic,
			"BTCUSD": ClassCrypto, "ETHUSD": ClassCrypto, "LTCUSD": ClassCrypto, "XRPUSD": ClassCrypto,
			"XAUUSD": ClassMetals, "XAGUSD": ClassMetals, "XPTUSD": ClassMetals,
			"US30": ClassIndices, "US500": ClassIndices, "NAS100": ClassIndices,
			"GER40": ClassIndices, "UK100": ClassIndices, "JPN225": ClassIndices,
			"USOIL": ClassCommodities, "UKOIL": ClassCommodities, "XNGUSD": ClassCommodities,
		},
		Overrides: map[string]SymbolOverride{
			// Gold trends hard and retraces hard: tighter trailing, higher
			// confidence floor than the METALS profile.
			"XAUUSD": {
				TrailingMult:  ptr(0.6),
				MinConfidence: ptr(72.0),
			},
		},
		CorrelationGroups: []CorrelationGroup{
			{Name: "EUR_BLOC", Symbols: []string{"EURUSD", "EURGBP", "EURJPY", "EURCHF", "EURAUD"}, MaxSameDirection: 2},
			{Name: "JPY_BLOC", Symbols: []string{"USDJPY", "EURJPY", "GBPJPY", "AUDJPY", "CADJPY"}, MaxSameDirection: 2},
			{Name: "USD_MAJORS", Symbols: []string{"EURUSD", "GBPUSD", "AUDUSD", "NZDUSD"}, MaxSameDirection: 2},
			{Name: "CRYPTO", Symbols: []string{"BTCUSD", "ETHUSD", "LTCUSD", "XRPUSD"}, MaxSameDirection: 2},
			{Name: "METALS", Symbols: []string{"XAUUSD", "XAGUSD", "XPTUSD"}, MaxSameDirection: 2},
		},
		EnsembleWeights: map[string]map[string]float64{
			"default": {
				"rsi": 1.0, "macd": 1.2, "bollinger": 0.9, "ema": 1.1, "adx": 0.8,
				"stochastic": 0.9, "obv": 0.7, "ichimoku": 1.0, "vwap": 0.8, "supertrend": 1.1,
			},
			ClassCrypto: {
				"rsi": 0.9, "macd": 1.1, "bollinger": 1.0, "ema": 1.0, "adx": 0.7,
				"stochastic": 0.8, "obv": 1.1, "ichimoku": 0.8, "vwap": 1.1, "supertrend": 1.2,
			},
			ClassMetals: {
				"rsi": 1.1, "macd": 1.2, "bollinger": 1.0, "ema": 1.0, "adx": 0.9,
				"stochastic": 1.0, "obv": 0.6, "ichimoku": 0.9, "vwap": 0.7, "supertrend": 1.2,
			},
		},
	}
}

// LoadSymbolRules reads the rule file and overlays it on the defaults.
// A missing file is not an error; the defaults apply unchanged.
func LoadSymbolRules(path string) (*SymbolRules, error) {
	rules := DefaultSymbolRules()

	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return nil, fmt.Errorf("failed to read symbol rules %s: %w", path, err)
	}

	var loaded SymbolRules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse symbol rules %s: %w", path, err)
	}

	rules.merge(&loaded)
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid symbol rules %s: %w", path, err)
	}

	return rules, nil
}

// merge overlays non-empty sections of loaded onto r. Class entries and
// symbol mappings merge key-by-key; list sections replace wholesale.
func (r *SymbolRules) merge(loaded *SymbolRules) {
	if loaded.DefaultClass != "" {
		r.DefaultClass = loaded.DefaultClass
	}
	for class, params := range loaded.Classes {
		r.Classes[class] = params
	}
	for symbol, class := range loaded.Symbols {
		r.Symbols[strings.ToUpper(symbol)] = class
	}
	for symbol, override := range loaded.Overrides {
		r.Overrides[strings.ToUpper(symbol)] = override
	}
	if len(loaded.CorrelationGroups) > 0 {
		r.CorrelationGroups = loaded.CorrelationGroups
	}
	for class, weights := range loaded.EnsembleWeights {
		r.EnsembleWeights[class] = weights
	}
}

// Validate checks referential integrity of the rule set.
func (r *SymbolRules) Validate() error {
	if _, ok := r.Classes[r.DefaultClass]; !ok {
		return fmt.Errorf("default_class %q has no class entry", r.DefaultClass)
	}
	for symbol, class := range r.Symbols {
		if _, ok := r.Classes[class]; !ok {
			return fmt.Errorf("symbol %s maps to unknown class %q", symbol, class)
		}
	}
	for symbol, override := range r.Overrides {
		if override.Class != "" {
			if _, ok := r.Classes[override.Class]; !ok {
				return fmt.Errorf("override for %s names unknown class %q", symbol, override.Class)
			}
		}
		if override.MinConfidence != nil && (*override.MinConfidence < 0 || *override.MinConfidence > 100) {
			return fmt.Errorf("override for %s: min_confidence must be within [0, 100]", symbol)
		}
	}
	for class, params := range r.Classes {
		if params.ATRTPMult <= 0 || params.ATRSLMult <= 0 {
			return fmt.Errorf("class %s: atr multipliers must be positive", class)
		}
		if params.MaxTPPct <= 0 || params.MinSLPct <= 0 || params.FallbackATRPct <= 0 {
			return fmt.Errorf("class %s: percentage parameters must be positive", class)
		}
	}
	for _, group := range r.CorrelationGroups {
		if group.Name == "" {
			return fmt.Errorf("correlation group with empty name")
		}
		if len(group.Symbols) < 2 {
			return fmt.Errorf("correlation group %s needs at least 2 symbols", group.Name)
		}
		if group.MaxSameDirection < 1 {
			return fmt.Errorf("correlation group %s: max_same_direction must be at least 1", group.Name)
		}
	}
	return nil
}

// ClassFor resolves a broker symbol to its asset class. Broker feeds decorate
// symbols with suffixes ("EURUSD.m", "XAUUSD_i"); resolution tries the exact
// symbol, then the cleaned root, then falls back to the default class.
func (r *SymbolRules) ClassFor(symbol string) string {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	if class, ok := r.Symbols[upper]; ok {
		return class
	}
	if override, ok := r.Overrides[upper]; ok && override.Class != "" {
		return override.Class
	}

	root := symbolRoot(upper)
	if class, ok := r.Symbols[root]; ok {
		return class
	}

	return r.DefaultClass
}

// ParamsFor returns the effective TP/SL profile for a symbol: class defaults
// with any per-symbol override fields applied.
func (r *SymbolRules) ParamsFor(symbol string) ClassParams {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	params := r.Classes[r.ClassFor(upper)]

	override, ok := r.Overrides[upper]
	if !ok {
		override, ok = r.Overrides[symbolRoot(upper)]
	}
	if !ok {
		return params
	}

	if override.ATRTPMult != nil {
		params.ATRTPMult = *override.ATRTPMult
	}
	if override.ATRSLMult != nil {
		params.ATRSLMult = *override.ATRSLMult
	}
	if override.MaxTPPct != nil {
		params.MaxTPPct = *override.MaxTPPct
	}
	if override.MinSLPct != nil {
		params.MinSLPct = *override.MinSLPct
	}
	if override.FallbackATRPct != nil {
		params.FallbackATRPct = *override.FallbackATRPct
	}
	if override.TrailingMult != nil {
		params.TrailingMult = *override.TrailingMult
	}
	return params
}

// MinConfidenceFor returns the auto-trade confidence floor for a symbol,
// taking the stricter of the global floor and any per-symbol override.
func (r *SymbolRules) MinConfidenceFor(symbol string, globalFloor float64) float64 {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	override, ok := r.Overrides[upper]
	if !ok {
		override, ok = r.Overrides[symbolRoot(upper)]
	}
	if ok && override.MinConfidence != nil && *override.MinConfidence > globalFloor {
		return *override.MinConfidence
	}
	return globalFloor
}

// WeightsFor returns the ensemble indicator weights for an asset class,
// falling back to the "default" weight set.
func (r *SymbolRules) WeightsFor(class string) map[string]float64 {
	if weights, ok := r.EnsembleWeights[class]; ok {
		return weights
	}
	return r.EnsembleWeights["default"]
}

// GroupsFor returns every correlation group containing the symbol.
func (r *SymbolRules) GroupsFor(symbol string) []CorrelationGroup {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	root := symbolRoot(upper)

	var groups []CorrelationGroup
	for _, group := range r.CorrelationGroups {
		for _, member := range group.Symbols {
			if member == upper || member == root {
				groups = append(groups, group)
				break
			}
		}
	}
	return groups
}

// symbolRoot strips broker decoration: everything from the first separator,
// plus trailing lowercase feed markers already uppercased ("EURUSD.M" -> "EURUSD").
func symbolRoot(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		if c == '.' || c == '_' || c == '-' || c == '#' {
			return symbol[:i]
		}
	}
	// Suffix letters beyond a 6-char pair root ("EURUSDM") also count as decoration.
	if len(symbol) > 6 {
		base := symbol[:6]
		if isAlpha(base) {
			return base
		}
	}
	return symbol
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func ptr[T any](v T) *T { return &v }
