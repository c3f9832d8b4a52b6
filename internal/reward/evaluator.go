package reward

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/discovery"
	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/model"
	"github.com/pulserank/pulserank/internal/provider"
	"github.com/pulserank/pulserank/internal/scoring"
)

// Kind is the closed set of candidate-gathering strategies. Anything outside
// this set is rejected at registration, not discovered at evaluation time.
type Kind string

const (
	// QueryBased searches the content API for matching items.
	QueryBased Kind = "query"
	// ScanBased scans pool members' own content.
	ScanBased Kind = "scan"
)

func validKind(k Kind) bool {
	return k == QueryBased || k == ScanBased
}

// EvalContext carries everything an evaluator needs for one brief.
type EvalContext struct {
	Brief *model.Brief
	Pool  config.Pool
	// Map is the pool's current social map.
	Map *discovery.SocialMap
	// MemberContent holds content fetched for eligible members this cycle.
	MemberContent map[string][]model.ContentItem
}

// Evaluator gathers a brief's candidate content items.
type Evaluator interface {
	Kind() Kind
	Candidates(ctx context.Context, ec *EvalContext) ([]model.ContentItem, error)
}

// Registry holds the evaluator for each kind.
type Registry struct {
	evaluators map[Kind]Evaluator
}

// NewEvaluatorRegistry returns an empty registry.
func NewEvaluatorRegistry() *Registry {
	return &Registry{evaluators: make(map[Kind]Evaluator)}
}

// Register adds an evaluator, rejecting unknown kinds and duplicates.
func (r *Registry) Register(e Evaluator) error {
	kind := e.Kind()
	if !validKind(kind) {
		return faults.Configuration(nil, "unknown evaluator kind %q", kind)
	}
	if _, exists := r.evaluators[kind]; exists {
		return faults.Configuration(nil, "evaluator kind %q already registered", kind)
	}
	r.evaluators[kind] = e
	return nil
}

// Get returns the evaluator for a kind.
func (r *Registry) Get(kind Kind) (Evaluator, error) {
	e, ok := r.evaluators[kind]
	if !ok {
		return nil, faults.Configuration(nil, "no evaluator registered for kind %q", kind)
	}
	return e, nil
}

// KindForPool maps a pool's configured evaluator name onto the closed set.
func KindForPool(pool config.Pool) Kind {
	if pool.Evaluator == config.EvaluatorQuery {
		return QueryBased
	}
	return ScanBased
}

// ScanEvaluator gathers candidates from the pool members' own content.
type ScanEvaluator struct{}

func (ScanEvaluator) Kind() Kind { return ScanBased }

func (ScanEvaluator) Candidates(_ context.Context, ec *EvalContext) ([]model.ContentItem, error) {
	filter := scoring.NewFilter(ec.Brief)
	var candidates []model.ContentItem
	for account, items := range ec.MemberContent {
		kept := filter.Apply(items)
		if len(kept) > 0 {
			log.Debug().Str("account", account).Str("brief", ec.Brief.ID).
				Int("items", len(kept)).Msg("member content matched brief")
		}
		candidates = append(candidates, kept...)
	}
	return candidates, nil
}

// QueryEvaluator searches the content API and filters the results.
type QueryEvaluator struct {
	fetcher provider.Fetcher
}

// NewQueryEvaluator wires a search-backed evaluator.
func NewQueryEvaluator(fetcher provider.Fetcher) *QueryEvaluator {
	return &QueryEvaluator{fetcher: fetcher}
}

func (*QueryEvaluator) Kind() Kind { return QueryBased }

func (e *QueryEvaluator) Candidates(ctx context.Context, ec *EvalContext) ([]model.ContentItem, error) {
	query := searchQuery(ec.Brief, ec.Pool)
	if query == "" {
		return nil, faults.Configuration(nil, "brief %s has no searchable criteria", ec.Brief.ID)
	}
	since := ec.Brief.StartDate.Time
	items, err := e.fetcher.SearchContent(ctx, query, since)
	if err != nil {
		return nil, err
	}
	return scoring.NewFilter(ec.Brief).Apply(items), nil
}

func searchQuery(b *model.Brief, pool config.Pool) string {
	if b.Tag != "" {
		return b.Tag
	}
	if b.RequiredQuoteID != "" {
		return "quoted:" + b.RequiredQuoteID
	}
	if len(pool.Keywords) > 0 {
		return strings.Join(pool.Keywords, " OR ")
	}
	return ""
}
