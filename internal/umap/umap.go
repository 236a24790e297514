// Package umap implements a neighborhood-graph-based nonlinear dimensionality
// reduction for embedding vectors, used to project clustered documents onto a
// 2-D plane for visualization. The construction follows the standard UMAP
// recipe: a k-nearest-neighbor graph with fuzzy membership weights, a PCA
// initialization, and stochastic gradient descent with negative sampling over
// the weighted edges.
package umap

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Params controls the reduction. Zero values fall back to the defaults below.
type Params struct {
	NNeighbors  int     `json:"n_neighbors"`
	MinDist     float64 `json:"min_dist"`
	Metric      string  `json:"metric"`
	NComponents int     `json:"n_components"`
	NEpochs     int     `json:"n_epochs"`
	Seed        int64   `json:"seed"`
}

// Defaults applied when a parameter is unset.
const (
	DefaultNNeighbors  = 15
	DefaultMinDist     = 0.1
	DefaultMetric      = "cosine"
	DefaultNComponents = 2
	defaultNEpochs     = 200
	defaultSeed        = 42

	negativeSamples = 5
	learningRate    = 1.0
)

// ErrNoVectors is returned when the input has no rows to reduce.
var ErrNoVectors = errors.New("no vectors to reduce")

func (p Params) withDefaults() Params {
	if p.NNeighbors <= 0 {
		p.NNeighbors = DefaultNNeighbors
	}
	if p.MinDist <= 0 {
		p.MinDist = DefaultMinDist
	}
	if p.Metric == "" {
		p.Metric = DefaultMetric
	}
	if p.NComponents <= 0 {
		p.NComponents = DefaultNComponents
	}
	if p.NEpochs <= 0 {
		p.NEpochs = defaultNEpochs
	}
	if p.Seed == 0 {
		p.Seed = defaultSeed
	}
	return p
}

// Reduce projects the input vectors down to p.NComponents dimensions and
// returns one coordinate row per input row, in input order.
func Reduce(vectors [][]float64, p Params) ([][]float64, error) {
	n := len(vectors)
	if n == 0 {
		return nil, ErrNoVectors
	}
	p = p.withDefaults()

	dist, err := metricFunc(p.Metric)
	if err != nil {
		return nil, err
	}

	// Tiny inputs cannot support a neighborhood graph; place them directly.
	if n <= p.NComponents+1 {
		out := make([][]float64, n)
		for i := range out {
			out[i] = make([]float64, p.NComponents)
			if i > 0 {
				out[i][0] = float64(i)
			}
		}
		return out, nil
	}

	k := p.NNeighbors
	if k >= n {
		k = n - 1
	}

	graph := buildFuzzyGraph(vectors, k, dist)
	layout := pcaInit(vectors, p.NComponents)
	a, b := fitCurveParams(p.MinDist)

	rng := rand.New(rand.NewSource(p.Seed))
	optimizeLayout(layout, graph, n, p, a, b, rng)

	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, p.NComponents)
		copy(row, layout[i])
		out[i] = row
	}
	return out, nil
}

type edge struct {
	from, to int
	weight   float64
}

type neighbor struct {
	idx int
	d   float64
}

func metricFunc(name string) (func(a, b []float64) float64, error) {
	switch name {
	case "euclidean":
		return func(a, b []float64) float64 {
			return floats.Distance(a, b, 2)
		}, nil
	case "cosine":
		return func(a, b []float64) float64 {
			na := floats.Norm(a, 2)
			nb := floats.Norm(b, 2)
			if na == 0 || nb == 0 {
				return 1
			}
			return 1 - floats.Dot(a, b)/(na*nb)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported metric %q", name)
	}
}

// buildFuzzyGraph computes the symmetrized fuzzy membership graph: per-point
// neighbor weights exp(-(d - rho)/sigma) with sigma solved so the weights sum
// to log2(k), then w_sym = w1 + w2 - w1*w2.
func buildFuzzyGraph(vectors [][]float64, k int, dist func(a, b []float64) float64) []edge {
	n := len(vectors)

	weights := make(map[[2]int]float64, n*k)
	for i := 0; i < n; i++ {
		neighbors := make([]neighbor, 0, n-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			neighbors = append(neighbors, neighbor{idx: j, d: dist(vectors[i], vectors[j])})
		}
		partialSortByDistance(neighbors, k)

		rho := neighbors[0].d
		sigma := solveSigma(neighbors[:k], rho)
		for _, nb := range neighbors[:k] {
			w := 1.0
			if nb.d > rho && sigma > 0 {
				w = math.Exp(-(nb.d - rho) / sigma)
			}
			key := [2]int{min(i, nb.idx), max(i, nb.idx)}
			if prev, ok := weights[key]; ok {
				weights[key] = prev + w - prev*w
			} else {
				weights[key] = w
			}
		}
	}

	edges := make([]edge, 0, len(weights))
	for key, w := range weights {
		if w > 0 {
			edges = append(edges, edge{from: key[0], to: key[1], weight: w})
		}
	}
	return edges
}

// partialSortByDistance selection-sorts the first k entries in place. k is
// small relative to n, so this beats a full sort for the sizes we see.
func partialSortByDistance(ns []neighbor, k int) {
	for i := 0; i < k && i < len(ns); i++ {
		best := i
		for j := i + 1; j < len(ns); j++ {
			if ns[j].d < ns[best].d {
				best = j
			}
		}
		ns[i], ns[best] = ns[best], ns[i]
	}
}

func solveSigma(neighbors []neighbor, rho float64) float64 {
	target := math.Log2(float64(len(neighbors)))
	lo, hi := 1e-6, 1000.0
	sigma := 1.0
	for iter := 0; iter < 64; iter++ {
		sigma = (lo + hi) / 2
		sum := 0.0
		for _, nb := range neighbors {
			if nb.d <= rho {
				sum++
			} else {
				sum += math.Exp(-(nb.d - rho) / sigma)
			}
		}
		if math.Abs(sum-target) < 1e-5 {
			break
		}
		if sum > target {
			hi = sigma
		} else {
			lo = sigma
		}
	}
	return sigma
}

// pcaInit seeds the layout with the top principal components, scaled to a
// small range so early SGD steps do not explode.
func pcaInit(vectors [][]float64, components int) [][]float64 {
	n, d := len(vectors), len(vectors[0])

	data := mat.NewDense(n, d, nil)
	means := make([]float64, d)
	for _, v := range vectors {
		floats.Add(means, v)
	}
	floats.Scale(1/float64(n), means)
	for i, v := range vectors {
		for j := 0; j < d; j++ {
			data.Set(i, j, v[j]-means[j])
		}
	}

	var svd mat.SVD
	layout := make([][]float64, n)
	if ok := svd.Factorize(data, mat.SVDThinU); ok {
		var u mat.Dense
		svd.UTo(&u)
		sigma := svd.Values(nil)
		for i := range layout {
			layout[i] = make([]float64, components)
			for c := 0; c < components && c < len(sigma); c++ {
				layout[i][c] = u.At(i, c) * sigma[c]
			}
		}
		rescale(layout, 10)
		return layout
	}

	// Degenerate input: fall back to a deterministic grid.
	for i := range layout {
		layout[i] = make([]float64, components)
		layout[i][0] = float64(i%10) - 5
		if components > 1 {
			layout[i][1] = float64(i/10) - 5
		}
	}
	return layout
}

func rescale(layout [][]float64, extent float64) {
	maxAbs := 0.0
	for _, row := range layout {
		for _, v := range row {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
	}
	if maxAbs == 0 {
		return
	}
	s := extent / maxAbs
	for _, row := range layout {
		floats.Scale(s, row)
	}
}

// fitCurveParams fits the low-dimensional similarity curve 1/(1+a*x^(2b)) to
// the piecewise-exponential target defined by min_dist, via coarse grid search.
func fitCurveParams(minDist float64) (float64, float64) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range xs {
		x := 3.0 * float64(i+1) / samples
		xs[i] = x
		if x <= minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist))
		}
	}

	bestA, bestB, bestErr := 1.0, 1.0, math.Inf(1)
	for a := 0.05; a <= 10.0; a += 0.05 {
		for b := 0.3; b <= 2.0; b += 0.02 {
			sse := 0.0
			for i, x := range xs {
				fit := 1.0 / (1.0 + a*math.Pow(x, 2*b))
				diff := fit - ys[i]
				sse += diff * diff
			}
			if sse < bestErr {
				bestA, bestB, bestErr = a, b, sse
			}
		}
	}
	return bestA, bestB
}

func optimizeLayout(layout [][]float64, edges []edge, n int, p Params, a, b float64, rng *rand.Rand) {
	dims := p.NComponents
	grad := make([]float64, dims)

	for epoch := 0; epoch < p.NEpochs; epoch++ {
		alpha := learningRate * (1 - float64(epoch)/float64(p.NEpochs))
		for _, e := range edges {
			if rng.Float64() > e.weight {
				continue
			}
			attract(layout[e.from], layout[e.to], a, b, alpha, grad)

			for s := 0; s < negativeSamples; s++ {
				other := rng.Intn(n)
				if other == e.from {
					continue
				}
				repulse(layout[e.from], layout[other], a, b, alpha, grad)
			}
		}
	}
}

func attract(from, to []float64, a, b, alpha float64, grad []float64) {
	d2 := squaredDistance(from, to)
	if d2 <= 0 {
		return
	}
	coeff := -2.0 * a * b * math.Pow(d2, b-1) / (1.0 + a*math.Pow(d2, b))
	applyGradient(from, to, coeff, alpha, grad)
}

func repulse(from, to []float64, a, b, alpha float64, grad []float64) {
	d2 := squaredDistance(from, to)
	coeff := 2.0 * b / ((0.001 + d2) * (1.0 + a*math.Pow(d2, b)))
	applyGradient(from, to, coeff, alpha, grad)
}

func applyGradient(from, to []float64, coeff, alpha float64, grad []float64) {
	for i := range from {
		g := clip(coeff * (from[i] - to[i]))
		grad[i] = g
		from[i] += alpha * g
	}
	for i := range to {
		to[i] -= alpha * grad[i]
	}
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func clip(v float64) float64 {
	return math.Max(-4, math.Min(4, v))
}
