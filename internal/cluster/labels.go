package cluster

// Archetype labels, in rule precedence order. Ties between clusters break in
// favor of the earlier rule.
const (
	LabelCoreAlpha  = "Core Alpha (Active)"
	LabelSnipers    = "Low-frequency Snipers"
	LabelMoonshot   = "Moonshot Hunters"
	LabelConviction = "Conviction Holders"
	LabelDormant    = "Dormant/Legacy"
)

// Feature column indexes into the centroid vectors.
const (
	colFrequency = iota
	colROI
	colHoldTime
	colX10
	colProfitRatio
)

// labelRule scores a centroid for one archetype given its min-max normalized
// feature values.
type labelRule struct {
	label string
	score func(nf []float64) float64
}

// Rules run in precedence order; each claims the best-scoring unclaimed
// cluster.
var labelRules = []labelRule{
	{LabelCoreAlpha, func(nf []float64) float64 { return nf[colFrequency] + nf[colROI] }},
	{LabelSnipers, func(nf []float64) float64 { return (1 - nf[colFrequency]) + nf[colROI] }},
	{LabelMoonshot, func(nf []float64) float64 { return nf[colX10] }},
	{LabelConviction, func(nf []float64) float64 { return nf[colHoldTime] }},
	{LabelDormant, func(nf []float64) float64 { return 1 - nf[colFrequency] }},
}

// assignLabels maps cluster index to archetype label by relative centroid
// ranking, never by arbitrary index.
func assignLabels(centroids [][]float64) []string {
	if len(centroids) == 0 {
		return nil
	}

	normalized := normalizeColumns(centroids)
	labels := make([]string, len(centroids))
	claimed := make([]bool, len(centroids))

	for _, rule := range labelRules {
		best, bestScore := -1, -1.0
		for c := range centroids {
			if claimed[c] {
				continue
			}
			if score := rule.score(normalized[c]); score > bestScore {
				best, bestScore = c, score
			}
		}
		if best < 0 {
			break // fewer clusters than rules
		}
		labels[best] = rule.label
		claimed[best] = true
	}
	return labels
}

// normalizeColumns min-max rescales each centroid column to [0,1] across the
// centroid set so rule scores compare like with like.
func normalizeColumns(centroids [][]float64) [][]float64 {
	out := make([][]float64, len(centroids))
	for i := range centroids {
		out[i] = make([]float64, featureCount)
	}

	for col := 0; col < featureCount; col++ {
		lo, hi := centroids[0][col], centroids[0][col]
		for _, c := range centroids {
			if c[col] < lo {
				lo = c[col]
			}
			if c[col] > hi {
				hi = c[col]
			}
		}
		span := hi - lo
		for i, c := range centroids {
			if span == 0 {
				out[i][col] = 0.5
				continue
			}
			out[i][col] = (c[col] - lo) / span
		}
	}
	return out
}
