package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSymbolRulesValid(t *testing.T) {
	rules := DefaultSymbolRules()
	require.NoError(t, rules.Validate())
	assert.Len(t, rules.Classes, 8)
}

func TestClassFor(t *testing.T) {
	rules := DefaultSymbolRules()

	tests := []struct {
		symbol string
		want   string
	}{
		{"EURUSD", ClassForexMajor},
		{"eurusd", ClassForexMajor},
		{"EURUSD.m", ClassForexMajor},
		{"EURUSD_i", ClassForexMajor},
		{"EURUSDm", ClassForexMajor},
		{"GBPJPY", ClassForexMinor},
		{"USDTRY", ClassForexExotic},
		{"BTCUSD", ClassCrypto},
		{"XAUUSD", ClassMetals},
		{"XAUUSD.pro", ClassMetals},
		{"NAS100", ClassIndices},
		{"USOIL", ClassCommodities},
		{"UNKNOWN1", ClassForexMinor}, // default class
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.ClassFor(tt.symbol))
		})
	}
}

func TestParamsForClassDefaults(t *testing.T) {
	rules := DefaultSymbolRules()

	params := rules.ParamsFor("EURUSD")
	assert.InDelta(t, 2.0, params.ATRTPMult, 0.001)
	assert.InDelta(t, 1.2, params.ATRSLMult, 0.001)
	assert.InDelta(t, 1.0, params.MaxTPPct, 0.001)
	assert.InDelta(t, 0.15, params.MinSLPct, 0.001)
	assert.InDelta(t, 0.08, params.FallbackATRPct, 0.001)
	assert.InDelta(t, 0.8, params.TrailingMult, 0.001)

	crypto := rules.ParamsFor("BTCUSD")
	assert.InDelta(t, 1.8, crypto.ATRTPMult, 0.001)
	assert.InDelta(t, 5.0, crypto.MaxTPPct, 0.001)
}

func TestParamsForXAUUSDOverride(t *testing.T) {
	rules := DefaultSymbolRules()

	gold := rules.ParamsFor("XAUUSD")
	base := rules.Classes[ClassMetals]

	// Override tightens trailing; everything else inherits from METALS.
	assert.InDelta(t, 0.6, gold.TrailingMult, 0.001)
	assert.InDelta(t, base.ATRTPMult, gold.ATRTPMult, 0.001)
	assert.InDelta(t, base.MinSLPct, gold.MinSLPct, 0.001)

	// Decorated broker name resolves to the same override.
	decorated := rules.ParamsFor("XAUUSD.m")
	assert.InDelta(t, 0.6, decorated.TrailingMult, 0.001)
}

func TestMinConfidenceFor(t *testing.T) {
	rules := DefaultSymbolRules()

	// XAUUSD override raises the floor above the global value.
	assert.InDelta(t, 72.0, rules.MinConfidenceFor("XAUUSD", 65.0), 0.001)
	// Global floor wins when it is already stricter.
	assert.InDelta(t, 80.0, rules.MinConfidenceFor("XAUUSD", 80.0), 0.001)
	// No override: global floor applies.
	assert.InDelta(t, 65.0, rules.MinConfidenceFor("EURUSD", 65.0), 0.001)
}

func TestWeightsFor(t *testing.T) {
	rules := DefaultSymbolRules()

	crypto := rules.WeightsFor(ClassCrypto)
	assert.InDelta(t, 1.1, crypto["obv"], 0.001)

	// Classes without a dedicated weight set fall back to defaults.
	major := rules.WeightsFor(ClassForexMajor)
	assert.InDelta(t, 1.2, major["macd"], 0.001)
	assert.Len(t, major, 10)
}

func TestGroupsFor(t *testing.T) {
	rules := DefaultSymbolRules()

	groups := rules.GroupsFor("EURJPY")
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.ElementsMatch(t, []string{"EUR_BLOC", "JPY_BLOC"}, names)

	assert.Empty(t, rules.GroupsFor("USDTRY"))
}

func TestLoadSymbolRulesMissingFileUsesDefaults(t *testing.T) {
	rules, err := LoadSymbolRules(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ClassForexMinor, rules.DefaultClass)
	assert.Len(t, rules.Classes, 8)
}

func TestLoadSymbolRulesOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbol_rules.yaml")
	yaml := `
symbols:
  DOGEUSD: CRYPTO
overrides:
  GBPJPY:
    atr_sl_mult: 1.6
    min_confidence: 70
correlation_groups:
  - name: CUSTOM
    symbols: [EURUSD, GBPUSD]
    max_same_direction: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	rules, err := LoadSymbolRules(path)
	require.NoError(t, err)

	// New symbol merged in, built-ins kept.
	assert.Equal(t, ClassCrypto, rules.ClassFor("DOGEUSD"))
	assert.Equal(t, ClassForexMajor, rules.ClassFor("EURUSD"))

	// Override applies on top of the class profile.
	params := rules.ParamsFor("GBPJPY")
	assert.InDelta(t, 1.6, params.ATRSLMult, 0.001)
	assert.InDelta(t, 2.5, params.ATRTPMult, 0.001) // inherited from FOREX_MINOR
	assert.InDelta(t, 70.0, rules.MinConfidenceFor("GBPJPY", 65.0), 0.001)

	// Group list replaces wholesale.
	require.Len(t, rules.CorrelationGroups, 1)
	assert.Equal(t, "CUSTOM", rules.CorrelationGroups[0].Name)
	assert.Equal(t, 1, rules.CorrelationGroups[0].MaxSameDirection)
}

func TestLoadSymbolRulesRejectsBadReferences(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbol_rules.yaml")
	yaml := `
symbols:
  EURUSD: NO_SUCH_CLASS
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := LoadSymbolRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown class")
}

func TestLoadSymbolRulesShippedFile(t *testing.T) {
	// The repository artifact must stay parseable and internally consistent.
	path := filepath.Join("..", "..", "configs", "symbol_rules.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("configs/symbol_rules.yaml not present")
	}

	rules, err := LoadSymbolRules(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, rules.ParamsFor("XAUUSD").TrailingMult, 0.001)
}
