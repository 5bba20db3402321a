package cluster

import (
	"math"
	"math/rand"

	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Archetype Clustering — k-means over standardized behavior features
// ---------------------------------------------------------------------------

// featureCount is the dimensionality of the behavior vector:
// [trade_frequency, roi_per_trade, median_hold_time, x10_ratio, profit_token_ratio].
const featureCount = 5

// Config configures the clustering pass.
type Config struct {
	K             int   `yaml:"k"`
	MaxIterations int   `yaml:"max_iterations"`
	Seed          int64 `yaml:"seed"`
}

// DefaultConfig returns clustering defaults. The fixed seed keeps results
// reproducible for the same input set.
func DefaultConfig() Config {
	return Config{K: 5, MaxIterations: 100, Seed: 42}
}

// Result is the outcome of one clustering pass. Cluster identity is not
// stable across cycles; only the wallet-to-label mapping at a point in time
// matters downstream.
type Result struct {
	Assignments []int       // wallet index -> cluster id
	Centroids   [][]float64 // standardized feature space
	Labels      []string    // cluster id -> archetype label
}

// featureVector extracts the behavior features for one wallet.
func featureVector(m wallet.Metrics) []float64 {
	return []float64{
		m.TradeFrequency,
		m.ROIPerTrade,
		m.MedianHoldTime,
		m.X10Ratio,
		m.ProfitTokenRatio,
	}
}

// Run clusters the wallet set and labels each cluster by its centroid
// characteristics. Annotates nothing; see Apply.
func Run(config Config, metrics []wallet.Metrics) Result {
	if config.K <= 0 {
		config.K = DefaultConfig().K
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if len(metrics) == 0 {
		return Result{}
	}

	k := config.K
	if len(metrics) < k {
		k = len(metrics)
	}

	points := make([][]float64, len(metrics))
	for i, m := range metrics {
		points[i] = featureVector(m)
	}
	standardize(points)

	rng := rand.New(rand.NewSource(config.Seed))
	centroids := seedCentroids(rng, points, k)
	assignments := make([]int, len(points))

	for iter := 0; iter < config.MaxIterations; iter++ {
		changed := assignPoints(points, centroids, assignments)
		recomputeCentroids(points, assignments, centroids)
		if !changed {
			break
		}
	}

	labels := assignLabels(centroids)

	log.Debug().
		Int("wallets", len(metrics)).
		Int("clusters", k).
		Strs("labels", labels).
		Msg("cluster: pass complete")

	return Result{Assignments: assignments, Centroids: centroids, Labels: labels}
}

// Apply runs a clustering pass and writes cluster id and label onto each
// wallet's snapshot.
func Apply(config Config, metrics []wallet.Metrics) []wallet.Metrics {
	result := Run(config, metrics)
	out := make([]wallet.Metrics, len(metrics))
	copy(out, metrics)
	for i := range out {
		if i < len(result.Assignments) {
			cid := result.Assignments[i]
			out[i].ClusterID = cid
			if cid < len(result.Labels) {
				out[i].ClusterLabel = result.Labels[cid]
			}
		}
	}
	return out
}

// standardize rescales each column to zero mean, unit variance in place so no
// feature dominates by scale.
func standardize(points [][]float64) {
	if len(points) == 0 {
		return
	}
	n := float64(len(points))
	for col := 0; col < featureCount; col++ {
		sum := 0.0
		for _, p := range points {
			sum += p[col]
		}
		m := sum / n

		variance := 0.0
		for _, p := range points {
			d := p[col] - m
			variance += d * d
		}
		sd := math.Sqrt(variance / n)
		if sd == 0 {
			sd = 1
		}

		for _, p := range points {
			p[col] = (p[col] - m) / sd
		}
	}
}

// seedCentroids picks initial centroids k-means++ style with the fixed rng.
func seedCentroids(rng *rand.Rand, points [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, append([]float64(nil), first...))

	for len(centroids) < k {
		dists := make([]float64, len(points))
		total := 0.0
		for i, p := range points {
			best := math.MaxFloat64
			for _, c := range centroids {
				if d := sqDist(p, c); d < best {
					best = d
				}
			}
			dists[i] = best
			total += best
		}

		// All remaining points coincide with a centroid: pick uniformly.
		if total == 0 {
			p := points[rng.Intn(len(points))]
			centroids = append(centroids, append([]float64(nil), p...))
			continue
		}

		target := rng.Float64() * total
		acc := 0.0
		chosen := len(points) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), points[chosen]...))
	}
	return centroids
}

// assignPoints moves each point to its nearest centroid; reports whether any
// assignment changed.
func assignPoints(points [][]float64, centroids [][]float64, assignments []int) bool {
	changed := false
	for i, p := range points {
		best, bestDist := 0, math.MaxFloat64
		for c, centroid := range centroids {
			if d := sqDist(p, centroid); d < bestDist {
				best, bestDist = c, d
			}
		}
		if assignments[i] != best {
			assignments[i] = best
			changed = true
		}
	}
	return changed
}

// recomputeCentroids replaces each centroid with the mean of its members.
// Empty clusters keep their previous centroid.
func recomputeCentroids(points [][]float64, assignments []int, centroids [][]float64) {
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range centroids {
		sums[c] = make([]float64, featureCount)
	}
	for i, p := range points {
		c := assignments[i]
		counts[c]++
		for col, v := range p {
			sums[c][col] += v
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for col := range centroids[c] {
			centroids[c][col] = sums[c][col] / float64(counts[c])
		}
	}
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
