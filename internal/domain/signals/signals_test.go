package signals_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/indicators"
	"github.com/sawpanic/niftyrun/internal/domain/signals"
)

func chainWithTrend(trend string) domain.OptionChainSummary {
	return domain.OptionChainSummary{OITrend: domain.String(trend)}
}

func TestOIMomentum(t *testing.T) {
	det := signals.NewOIMomentum(signals.DefaultOIMomentumConfig())

	tests := []struct {
		name     string
		chain    domain.OptionChainSummary
		want     domain.Direction
		strength int
		explain  string
	}{
		{"call unwind", chainWithTrend("CE_unwind PE_build"), domain.Long, 70, "oi_delta>=~5.0%, trend=CE_unwind PE_build"},
		{"bare call unwind", chainWithTrend("CE_unwind"), domain.Long, 70, "oi_delta>=~5.0%, trend=CE_unwind"},
		{"put unwind", chainWithTrend("PE_unwind"), domain.NoDirection, 0, "oi_delta>=~5.0%, trend=PE_unwind"},
		{"prefix must match at start", chainWithTrend("PE_build CE_unwind"), domain.NoDirection, 0, "oi_delta>=~5.0%, trend=PE_build CE_unwind"},
		{"neutral chain", domain.NeutralOptionChain(), domain.NoDirection, 0, "oi_delta>=~5.0%, trend=None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := det.Detect("NIFTY50", signals.Slice{OptionChain: tt.chain})
			assert.Equal(t, signals.NameOIMomentum, op.Detector)
			assert.Equal(t, tt.want, op.Direction)
			assert.Equal(t, tt.strength, op.Strength)
			assert.Equal(t, tt.explain, op.Explain)
			assert.NoError(t, op.Validate())
		})
	}
}

func TestOIMomentum_ThresholdInExplain(t *testing.T) {
	det := signals.NewOIMomentum(signals.OIMomentumConfig{MinOIDelta5mPct: 7.25})
	op := det.Detect("BANKNIFTY", signals.Slice{OptionChain: chainWithTrend("flat")})
	assert.Equal(t, "oi_delta>=~7.25%, trend=flat", op.Explain)
}

func TestCPRVWAP(t *testing.T) {
	ltp := 24572.3
	cpr := indicators.CalculateCPR(ltp+50, ltp-50, ltp-25)
	vwap := ltp - 10

	tests := []struct {
		name    string
		config  signals.CPRVWAPConfig
		slice   signals.Slice
		want    domain.Direction
		explain string
	}{
		{
			"aligned",
			signals.DefaultCPRVWAPConfig(),
			signals.Slice{LTP: ltp, VWAP: &vwap, CPR: &cpr},
			domain.Long, "above VWAP & above CPR-TC",
		},
		{
			"below vwap",
			signals.DefaultCPRVWAPConfig(),
			signals.Slice{LTP: ltp, VWAP: domain.Float(ltp + 1), CPR: &cpr},
			domain.NoDirection, "no cpr/vwap alignment",
		},
		{
			"below tc",
			signals.DefaultCPRVWAPConfig(),
			signals.Slice{LTP: ltp, VWAP: &vwap, CPR: &indicators.CPR{TC: ltp + 5}},
			domain.NoDirection, "no cpr/vwap alignment",
		},
		{
			"requirement disabled",
			signals.CPRVWAPConfig{RequireAboveVWAPForLongs: false},
			signals.Slice{LTP: ltp, VWAP: &vwap, CPR: &cpr},
			domain.NoDirection, "no cpr/vwap alignment",
		},
		{
			"missing vwap degrades to none",
			signals.DefaultCPRVWAPConfig(),
			signals.Slice{LTP: ltp, CPR: &cpr},
			domain.NoDirection, "no cpr/vwap alignment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := signals.NewCPRVWAP(tt.config).Detect("NIFTY50", tt.slice)
			assert.Equal(t, tt.want, op.Direction)
			assert.Equal(t, tt.explain, op.Explain)
			if tt.want == domain.Long {
				assert.Equal(t, 75, op.Strength)
			} else {
				assert.Zero(t, op.Strength)
			}
		})
	}
}

func TestRegistry_FromConfig(t *testing.T) {
	reg, err := signals.NewRegistryFromConfig(signals.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"oi_momentum", "cpr_vwap"}, reg.Names())

	ops := reg.Evaluate("NIFTY50", signals.Slice{LTP: 100, OptionChain: chainWithTrend("CE_unwind")})
	require.Len(t, ops, 2)
	assert.Equal(t, "oi_momentum", ops[0].Detector)
	assert.Equal(t, "cpr_vwap", ops[1].Detector)
}

func TestRegistry_Errors(t *testing.T) {
	_, err := signals.NewRegistryFromConfig(signals.Config{Enabled: []string{"rsi"}})
	assert.Error(t, err)

	_, err = signals.NewRegistryFromConfig(signals.Config{})
	assert.Error(t, err)

	oi := signals.NewOIMomentum(signals.DefaultOIMomentumConfig())
	_, err = signals.NewRegistry(oi, oi)
	assert.Error(t, err)
}
