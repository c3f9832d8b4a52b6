// Package graph builds the directed interaction graph between tracked
// accounts and ranks it with weighted PageRank. Edge weight for an ordered
// pair is the maximum across interaction types seen in one discovery run,
// so a retweet storm cannot outweigh a single quote.
package graph

import (
	"sort"
	"strings"

	"github.com/pulserank/pulserank/internal/model"
)

// Weights are the per-interaction-type edge weights.
type Weights struct {
	Mention float64
	Retweet float64
	Quote   float64
}

// DefaultWeights mirror the production configuration.
func DefaultWeights() Weights {
	return Weights{Mention: 2.0, Retweet: 1.0, Quote: 3.0}
}

// Relevance decides whether an account may appear in the graph. Both
// endpoints of an edge must be relevant for the edge to be kept.
type Relevance interface {
	Relevant(username string) bool
}

// RelevanceFunc adapts a plain function to Relevance.
type RelevanceFunc func(username string) bool

// Relevant implements Relevance.
func (f RelevanceFunc) Relevant(username string) bool { return f(username) }

// Graph is a directed weighted interaction graph.
type Graph struct {
	edges map[string]map[string]float64
	nodes map[string]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		edges: make(map[string]map[string]float64),
		nodes: make(map[string]struct{}),
	}
}

// AddEdge records an interaction from one account to another. Repeated
// interactions for the same ordered pair keep the MAX weight, never the sum.
// Self-edges are ignored.
func (g *Graph) AddEdge(from, to string, weight float64) {
	from = strings.ToLower(from)
	to = strings.ToLower(to)
	if from == "" || to == "" || from == to || weight <= 0 {
		return
	}
	g.nodes[from] = struct{}{}
	g.nodes[to] = struct{}{}

	row, ok := g.edges[from]
	if !ok {
		row = make(map[string]float64)
		g.edges[from] = row
	}
	if weight > row[to] {
		row[to] = weight
	}
}

// Weight returns the edge weight for the ordered pair, zero when absent.
func (g *Graph) Weight(from, to string) float64 {
	return g.edges[strings.ToLower(from)][strings.ToLower(to)]
}

// EdgeCount returns the number of distinct directed edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, row := range g.edges {
		n += len(row)
	}
	return n
}

// Nodes returns all account names in sorted order.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// Edges returns all edges, ordered by (from, to).
func (g *Graph) Edges() []model.InteractionEdge {
	out := make([]model.InteractionEdge, 0, g.EdgeCount())
	for from, row := range g.edges {
		for to, w := range row {
			out = append(out, model.InteractionEdge{From: from, To: to, Weight: w})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Adjacency returns the weight matrix over Nodes() order.
func (g *Graph) Adjacency() ([]string, [][]float64) {
	nodes := g.Nodes()
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}

	matrix := make([][]float64, len(nodes))
	for i := range matrix {
		matrix[i] = make([]float64, len(nodes))
	}
	for from, row := range g.edges {
		for to, w := range row {
			matrix[index[from]][index[to]] = w
		}
	}
	return nodes, matrix
}

// InteractionWeights returns each node's total interaction weight: the sum of
// its outgoing and incoming edge weights.
func (g *Graph) InteractionWeights() map[string]float64 {
	weights := make(map[string]float64, len(g.nodes))
	for n := range g.nodes {
		weights[n] = 0
	}
	for from, row := range g.edges {
		for to, w := range row {
			weights[from] += w
			weights[to] += w
		}
	}
	return weights
}

// Builder assembles a graph from fetched content.
type Builder struct {
	weights   Weights
	relevance Relevance
}

// NewBuilder creates a Builder; relevance may be nil to keep every edge.
func NewBuilder(weights Weights, relevance Relevance) *Builder {
	return &Builder{weights: weights, relevance: relevance}
}

func (b *Builder) relevant(username string) bool {
	if b.relevance == nil {
		return true
	}
	return b.relevance.Relevant(username)
}

func (b *Builder) addInteraction(g *Graph, from, to string, weight float64) {
	if from == to || to == "" {
		return
	}
	if !b.relevant(from) || !b.relevant(to) {
		return
	}
	g.AddEdge(from, to, weight)
}

// Build constructs the interaction graph from per-account content. Reply
// content yields no edges; only original posts and quotes carry interactions.
func (b *Builder) Build(content map[string][]model.ContentItem) *Graph {
	g := NewGraph()
	for account, items := range content {
		author := strings.ToLower(account)
		for i := range items {
			item := &items[i]
			if item.Reply {
				continue
			}

			if item.Retweet && item.RetweetedUser != "" {
				b.addInteraction(g, author, item.RetweetedUser, b.weights.Retweet)
				// A pure retweet carries no text of its own.
				continue
			}
			if item.Quote && item.QuotedUser != "" {
				b.addInteraction(g, author, item.QuotedUser, b.weights.Quote)
			}
			for _, mention := range item.Mentions {
				b.addInteraction(g, author, mention, b.weights.Mention)
			}
		}
	}
	return g
}
