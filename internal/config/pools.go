package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// EvaluatorKindName selects how a pool's briefs are evaluated.
const (
	EvaluatorScan  = "scan"
	EvaluatorQuery = "query"
)

// Pool defines one tracked cohort of accounts.
type Pool struct {
	Name                 string   `yaml:"name"`
	Seeds                []string `yaml:"seeds"`
	MaxMembers           int      `yaml:"max_members"`
	MinInteractionWeight float64  `yaml:"min_interaction_weight"`
	ConsideredCount      int      `yaml:"considered_count"`
	Language             string   `yaml:"language"`
	Evaluator            string   `yaml:"evaluator"`

	// Relevance filter applied to graph edges.
	Keywords     []string `yaml:"keywords"`
	MinFollowers int      `yaml:"min_followers"`
}

// PoolsFile is the on-disk shape of the pool definitions file.
type PoolsFile struct {
	Pools []Pool `yaml:"pools"`
}

// LoadPools reads the pool definitions file and validates each entry.
func LoadPools(path string) (map[string]Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pools config: %w", err)
	}

	var file PoolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pools YAML: %w", err)
	}

	pools := make(map[string]Pool, len(file.Pools))
	for i := range file.Pools {
		p := file.Pools[i]
		if p.Name == "" {
			return nil, fmt.Errorf("pool entry %d missing name", i)
		}
		if _, dup := pools[p.Name]; dup {
			return nil, fmt.Errorf("duplicate pool %q", p.Name)
		}
		if len(p.Seeds) == 0 {
			return nil, fmt.Errorf("pool %q has no seed accounts", p.Name)
		}
		if p.MaxMembers <= 0 {
			p.MaxMembers = 50
		}
		if p.ConsideredCount <= 0 {
			p.ConsideredCount = 256
		}
		if p.Evaluator == "" {
			p.Evaluator = EvaluatorScan
		}
		if p.Evaluator != EvaluatorScan && p.Evaluator != EvaluatorQuery {
			return nil, fmt.Errorf("pool %q has unknown evaluator %q", p.Name, p.Evaluator)
		}
		pools[p.Name] = p
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("pools config %s defines no pools", path)
	}
	return pools, nil
}
