package design

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Candidate is one trial design variant: a sample size, how many exclusion
// criteria are relaxed, and the randomization ratio.
type Candidate struct {
	SampleSize         int     `json:"sample_size"`
	Looseness          int     `json:"looseness"`
	RandomizationRatio float64 `json:"randomization_ratio"`
	Power              float64 `json:"power"`
	Feasibility        float64 `json:"feasibility"`
	Score              float64 `json:"score"`
}

type Options struct {
	PoolSize      int
	PickK         int
	EffectSize    float64
	Alpha         float64
	VariationFrac float64
	Seed          int64
}

func (o *Options) defaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = 12
	}
	if o.PickK <= 0 {
		o.PickK = 3
	}
	if o.EffectSize <= 0 {
		o.EffectSize = 0.4
	}
	if o.Alpha <= 0 {
		o.Alpha = 0.05
	}
	if o.VariationFrac <= 0 {
		o.VariationFrac = 0.2
	}
}

// Optimize generates a pool of design candidates around the base sample size,
// scores each by statistical power and operational feasibility, and returns
// the best candidate from each of k clusters so the picks stay diverse.
func Optimize(baseSampleSize int, opts Options) ([]Candidate, error) {
	opts.defaults()
	if baseSampleSize <= 0 {
		baseSampleSize = 200
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	pool := make([]Candidate, 0, opts.PoolSize)
	for i := 0; i < opts.PoolSize; i++ {
		pool = append(pool, candidate(rng, baseSampleSize, opts))
	}

	k := opts.PickK
	if k > len(pool) {
		k = len(pool)
	}
	selected := pickDiverse(pool, k, rng)
	sort.Slice(selected, func(i, j int) bool { return selected[i].Score > selected[j].Score })
	if len(selected) == 0 {
		return nil, fmt.Errorf("no design candidates generated")
	}
	return selected, nil
}

func candidate(rng *rand.Rand, base int, opts Options) Candidate {
	delta := int(float64(base) * opts.VariationFrac)
	size := base
	if delta > 0 {
		size += rng.Intn(2*delta+1) - delta
	}
	if size < 20 {
		size = 20
	}

	c := Candidate{
		SampleSize:         size,
		Looseness:          rng.Intn(3),
		RandomizationRatio: []float64{1.0, 1.5, 2.0}[rng.Intn(3)],
	}
	c.Power = Power(opts.EffectSize, size/2, opts.Alpha)
	c.Feasibility = feasibility(size, c.Looseness)
	c.Score = 0.6*c.Power + 0.4*c.Feasibility
	return c
}

// Power approximates two-sample t-test power with the normal approximation:
// Phi(es*sqrt(n/2) - z_{1-alpha/2}).
func Power(effectSize float64, nPerGroup int, alpha float64) float64 {
	if nPerGroup < 2 {
		nPerGroup = 2
	}
	zAlpha := normalQuantile(1 - alpha/2)
	z := effectSize*math.Sqrt(float64(nPerGroup)/2) - zAlpha
	return normalCDF(z)
}

// feasibility drops with sample size and with looser criteria, clamped to [0,1].
func feasibility(sampleSize, looseness int) float64 {
	f := 1.0 - float64(sampleSize)/2000.0 - float64(looseness)*0.1
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// normalQuantile inverts the standard normal CDF by bisection, which is
// plenty accurate for the alphas used here.
func normalQuantile(p float64) float64 {
	lo, hi := -10.0, 10.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if normalCDF(mid) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// pickDiverse clusters candidates over (sample size, looseness, ratio) with a
// small k-means and keeps the best-scoring member of each cluster.
func pickDiverse(pool []Candidate, k int, rng *rand.Rand) []Candidate {
	if k >= len(pool) {
		out := make([]Candidate, len(pool))
		copy(out, pool)
		return out
	}

	points := make([][3]float64, len(pool))
	for i, c := range pool {
		points[i] = [3]float64{float64(c.SampleSize), float64(c.Looseness), c.RandomizationRatio}
	}

	centroids := make([][3]float64, k)
	for i, idx := range rng.Perm(len(points))[:k] {
		centroids[i] = points[idx]
	}

	labels := make([]int, len(points))
	for iter := 0; iter < 20; iter++ {
		changed := false
		for i, point := range points {
			best := 0
			bestDist := math.MaxFloat64
			for j, centroid := range centroids {
				if d := squaredDistance(point, centroid); d < bestDist {
					bestDist = d
					best = j
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		var sums [][3]float64 = make([][3]float64, k)
		counts := make([]int, k)
		for i, point := range points {
			label := labels[i]
			for d := 0; d < 3; d++ {
				sums[label][d] += point[d]
			}
			counts[label]++
		}
		for j := range centroids {
			if counts[j] == 0 {
				continue
			}
			for d := 0; d < 3; d++ {
				centroids[j][d] = sums[j][d] / float64(counts[j])
			}
		}
	}

	selected := make([]Candidate, 0, k)
	for label := 0; label < k; label++ {
		bestIdx := -1
		for i := range pool {
			if labels[i] != label {
				continue
			}
			if bestIdx == -1 || pool[i].Score > pool[bestIdx].Score {
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			selected = append(selected, pool[bestIdx])
		}
	}
	return selected
}

func squaredDistance(a, b [3]float64) float64 {
	var sum float64
	for d := 0; d < 3; d++ {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return sum
}
