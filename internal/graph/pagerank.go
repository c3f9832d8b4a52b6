package graph

import (
	"math"
	"sort"

	"github.com/pulserank/pulserank/internal/faults"
)

// PageRankParams control the power iteration.
type PageRankParams struct {
	Damping       float64
	MaxIterations int
	// Tolerance is the per-node L1 convergence threshold; the iteration
	// stops when the total delta falls below Tolerance * nodeCount.
	Tolerance float64
}

// DefaultPageRankParams mirror the production configuration.
func DefaultPageRankParams() PageRankParams {
	return PageRankParams{Damping: 0.85, MaxIterations: 1000, Tolerance: 1e-6}
}

// PageRank ranks the graph's nodes by weighted PageRank. Out-edge weights are
// normalized per node; dangling mass is redistributed uniformly. A run that
// fails to converge within the iteration bound is a computation failure, not
// a silent approximation.
func PageRank(g *Graph, params PageRankParams) (map[string]float64, error) {
	nodes := g.Nodes()
	n := len(nodes)
	if n == 0 {
		return nil, faults.Computation(nil, "no interactions found in network")
	}
	if params.Damping <= 0 || params.Damping >= 1 {
		return nil, faults.Configuration(nil, "pagerank damping %.4f outside (0,1)", params.Damping)
	}
	if params.MaxIterations < 1 {
		return nil, faults.Configuration(nil, "pagerank iteration bound %d not positive", params.MaxIterations)
	}
	tol := params.Tolerance
	if tol <= 0 {
		tol = 1e-6
	}

	index := make(map[string]int, n)
	for i, node := range nodes {
		index[node] = i
	}

	// Column-oriented view: for each target, its weighted in-edges.
	type inEdge struct {
		src   int
		share float64
	}
	outWeight := make([]float64, n)
	for from, row := range g.edges {
		i := index[from]
		for _, w := range row {
			outWeight[i] += w
		}
	}
	inEdges := make([][]inEdge, n)
	for from, row := range g.edges {
		i := index[from]
		if outWeight[i] == 0 {
			continue
		}
		for to, w := range row {
			j := index[to]
			inEdges[j] = append(inEdges[j], inEdge{src: i, share: w / outWeight[i]})
		}
	}

	rank := make([]float64, n)
	next := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	base := (1.0 - params.Damping) / float64(n)
	threshold := tol * float64(n)

	for iter := 0; iter < params.MaxIterations; iter++ {
		var dangling float64
		for i := 0; i < n; i++ {
			if outWeight[i] == 0 {
				dangling += rank[i]
			}
		}
		danglingShare := params.Damping * dangling / float64(n)

		for j := 0; j < n; j++ {
			sum := 0.0
			for _, e := range inEdges[j] {
				sum += rank[e.src] * e.share
			}
			next[j] = base + danglingShare + params.Damping*sum
		}

		var delta float64
		for i := 0; i < n; i++ {
			delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank

		if delta < threshold {
			scores := make(map[string]float64, n)
			for i, node := range nodes {
				scores[node] = rank[i]
			}
			return scores, nil
		}
	}

	return nil, faults.Computation(nil, "pagerank failed to converge within %d iterations", params.MaxIterations)
}

// Normalize scales scores to sum to 1.0, rounds to 6 decimals and absorbs the
// rounding drift into the top-scoring entry so the invariant holds exactly.
func Normalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return map[string]float64{}
	}

	var total float64
	for _, s := range scores {
		total += s
	}
	if total <= 0 {
		return map[string]float64{}
	}

	out := make(map[string]float64, len(scores))
	var sum float64
	var top string
	var topScore float64
	for name, s := range scores {
		v := round6(s / total)
		out[name] = v
		sum += v
		// Deterministic top pick: highest rounded score, ties by name.
		if top == "" || v > topScore || (v == topScore && name < top) {
			top = name
			topScore = v
		}
	}

	if drift := round6(1.0 - sum); drift != 0 {
		out[top] = round6(out[top] + drift)
	}
	return out
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// TopN returns the n highest-scoring names, ties broken by name for
// determinism.
func TopN(scores map[string]float64, n int) []string {
	type pair struct {
		name  string
		score float64
	}
	pairs := make([]pair, 0, len(scores))
	for name, score := range scores {
		pairs = append(pairs, pair{name, score})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		return pairs[i].name < pairs[j].name
	})
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].name
	}
	return out
}
