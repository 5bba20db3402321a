package cluster

import (
	"testing"

	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticWallets() []wallet.Metrics {
	// Five well-separated behavior groups, four wallets each.
	groups := []wallet.Metrics{
		{TradeFrequency: 12, ROIPerTrade: 4.0, MedianHoldTime: 600, X10Ratio: 0.1, ProfitTokenRatio: 0.7},
		{TradeFrequency: 0.8, ROIPerTrade: 3.5, MedianHoldTime: 900, X10Ratio: 0.05, ProfitTokenRatio: 0.8},
		{TradeFrequency: 5, ROIPerTrade: 1.0, MedianHoldTime: 1200, X10Ratio: 0.9, ProfitTokenRatio: 0.4},
		{TradeFrequency: 3, ROIPerTrade: 0.5, MedianHoldTime: 80000, X10Ratio: 0.0, ProfitTokenRatio: 0.5},
		{TradeFrequency: 0.1, ROIPerTrade: 0.1, MedianHoldTime: 2000, X10Ratio: 0.0, ProfitTokenRatio: 0.1},
	}

	var out []wallet.Metrics
	for g, proto := range groups {
		for i := 0; i < 4; i++ {
			m := proto
			m.Wallet = string(rune('a'+g)) + string(rune('0'+i))
			m.TradeFrequency += float64(i) * 0.01
			m.ROIPerTrade += float64(i) * 0.01
			out = append(out, m)
		}
	}
	return out
}

func TestRun_Deterministic(t *testing.T) {
	wallets := syntheticWallets()

	r1 := Run(DefaultConfig(), wallets)
	r2 := Run(DefaultConfig(), wallets)

	assert.Equal(t, r1.Assignments, r2.Assignments)
	assert.Equal(t, r1.Labels, r2.Labels)
}

func TestRun_GroupsStayTogether(t *testing.T) {
	wallets := syntheticWallets()
	result := Run(DefaultConfig(), wallets)

	require.Len(t, result.Assignments, len(wallets))
	// Wallets within the same synthetic group share a cluster.
	for g := 0; g < 5; g++ {
		first := result.Assignments[g*4]
		for i := 1; i < 4; i++ {
			assert.Equal(t, first, result.Assignments[g*4+i],
				"group %d split across clusters", g)
		}
	}
}

func TestAssignLabels_RankedCentroids(t *testing.T) {
	// Raw centroid feature values; labeling must follow relative ranking,
	// not cluster index.
	centroids := [][]float64{
		{10, 5, 1, 0.2, 0.5},    // highest freq+roi
		{1, 4, 1, 0.1, 0.6},     // low freq, high roi
		{5, 1, 2, 0.9, 0.4},     // highest x10 ratio
		{4, 0.5, 50, 0.0, 0.3},  // longest hold
		{0.5, 0.2, 3, 0.0, 0.1}, // lowest activity
	}

	labels := assignLabels(centroids)

	assert.Equal(t, []string{
		LabelCoreAlpha,
		LabelSnipers,
		LabelMoonshot,
		LabelConviction,
		LabelDormant,
	}, labels)
}

func TestAssignLabels_Unique(t *testing.T) {
	wallets := syntheticWallets()
	result := Run(DefaultConfig(), wallets)

	seen := make(map[string]bool)
	for _, label := range result.Labels {
		require.NotEmpty(t, label)
		assert.False(t, seen[label], "label %q assigned twice", label)
		seen[label] = true
	}
}

func TestApply_AnnotatesWallets(t *testing.T) {
	wallets := syntheticWallets()
	annotated := Apply(DefaultConfig(), wallets)

	require.Len(t, annotated, len(wallets))
	for _, m := range annotated {
		assert.GreaterOrEqual(t, m.ClusterID, 0)
		assert.Less(t, m.ClusterID, 5)
		assert.NotEmpty(t, m.ClusterLabel)
	}
	// Input untouched.
	assert.Empty(t, wallets[0].ClusterLabel)
}

func TestRun_FewerWalletsThanClusters(t *testing.T) {
	wallets := syntheticWallets()[:3]
	result := Run(DefaultConfig(), wallets)

	require.Len(t, result.Assignments, 3)
	assert.Len(t, result.Centroids, 3)
	for _, a := range result.Assignments {
		assert.Less(t, a, 3)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	result := Run(DefaultConfig(), nil)
	assert.Empty(t, result.Assignments)
	assert.Empty(t, result.Labels)
}
