// Package retrieval evaluates embedding quality by nearest-neighbor
// search: documents whose labels name their true neighbors are embedded,
// indexed, and queried, and the ranked results are scored with standard
// information-retrieval metrics.
package retrieval

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoQueries is returned when no document carries a label set, leaving
// nothing to evaluate.
var ErrNoQueries = errors.New("retrieval: no queries with labels")

// RankedQuery is one evaluated query: the IDs of its true neighbors and
// the ranked candidate IDs returned for it, best first, with the query
// itself already removed.
type RankedQuery struct {
	Labels []int64
	Ranked []int64
}

// Results holds the aggregated IR metrics of one evaluation pass.
type Results struct {
	// MeanReciprocalRank averages, over queries, the reciprocal of the
	// best-ranking correct prediction's position. Positions are
	// zero-based with the zeroth and first position both scoring a full
	// point; a query with no hit contributes the reciprocal of the
	// ranking length.
	MeanReciprocalRank float64

	// MeanPercentileRank averages, over every correct prediction of every
	// query, its position as a fraction of the ranking length. NaN when
	// nothing relevant was retrieved at all.
	MeanPercentileRank float64

	// HitRateAt maps each threshold to the mean fraction of true
	// neighbors retrieved above it.
	HitRateAt map[int]float64

	// Queries is the number of label-bearing documents scored.
	Queries int
}

// Scalars flattens the results for scalar sinks and persistence.
func (r *Results) Scalars() map[string]float64 {
	out := map[string]float64{
		"mean_reciprocal_rank": r.MeanReciprocalRank,
		"mean_percentile_rank": r.MeanPercentileRank,
	}
	for threshold, rate := range r.HitRateAt {
		out[fmt.Sprintf("hit_rate_at_%d", threshold)] = rate
	}
	return out
}

// EvaluateIR scores ranked query results. Queries with empty label sets
// must be excluded by the caller; passing none at all is an error.
func EvaluateIR(queries []RankedQuery, hitsThresholds []int) (*Results, error) {
	if len(queries) == 0 {
		return nil, ErrNoQueries
	}

	hitFractions := make([][]float64, len(hitsThresholds))
	var percentileRanks []float64
	reciprocalRank := 0.0

	for _, q := range queries {
		if len(q.Labels) == 0 {
			return nil, fmt.Errorf("retrieval: query with empty labels; exclude it before scoring")
		}
		truth := make(map[int64]struct{}, len(q.Labels))
		for _, id := range q.Labels {
			truth[id] = struct{}{}
		}

		maxRank := len(q.Ranked)
		firstHit := maxRank
		queryHits := make([]int, len(hitsThresholds))
		for i, id := range q.Ranked {
			if _, ok := truth[id]; !ok {
				continue
			}
			if i < firstHit {
				firstHit = i
			}
			percentileRanks = append(percentileRanks, float64(i)/float64(maxRank))
			for t, threshold := range hitsThresholds {
				if i < threshold {
					queryHits[t]++
				}
			}
		}

		if firstHit > 0 {
			reciprocalRank += 1 / float64(firstHit)
		} else {
			reciprocalRank += 1
		}
		for t := range hitsThresholds {
			hitFractions[t] = append(hitFractions[t], float64(queryHits[t])/float64(len(q.Labels)))
		}
	}

	results := &Results{
		MeanReciprocalRank: reciprocalRank / float64(len(queries)),
		MeanPercentileRank: mean(percentileRanks),
		HitRateAt:          make(map[int]float64, len(hitsThresholds)),
		Queries:            len(queries),
	}
	for t, threshold := range hitsThresholds {
		results.HitRateAt[threshold] = mean(hitFractions[t])
	}
	return results, nil
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals))
}
