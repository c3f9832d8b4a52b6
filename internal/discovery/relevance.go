package discovery

import (
	"strings"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/graph"
	"github.com/pulserank/pulserank/internal/model"
)

// relevanceFor derives the pool's account-admission rule from the fetched
// content. Seeds always pass. Other accounts pass each check the pool sets:
// a keyword match in recent content, the pool language, and a minimum
// follower count. Accounts with no fetched content fail every check, so
// engagers outside the roster drop out of the graph when a rule is active.
func relevanceFor(pool config.Pool, content map[string][]model.ContentItem) graph.Relevance {
	if len(pool.Keywords) == 0 && pool.Language == "" && pool.MinFollowers <= 0 {
		return nil
	}

	seeds := make(map[string]struct{}, len(pool.Seeds))
	for _, s := range pool.Seeds {
		seeds[strings.ToLower(s)] = struct{}{}
	}
	keywords := make([]string, len(pool.Keywords))
	for i, k := range pool.Keywords {
		keywords[i] = strings.ToLower(k)
	}

	pass := make(map[string]bool, len(content))
	for account, items := range content {
		pass[strings.ToLower(account)] = relevant(pool, keywords, items)
	}

	return graph.RelevanceFunc(func(username string) bool {
		if _, ok := seeds[username]; ok {
			return true
		}
		return pass[username]
	})
}

func relevant(pool config.Pool, keywords []string, items []model.ContentItem) bool {
	if len(items) == 0 {
		return false
	}

	if pool.MinFollowers > 0 {
		followers := 0
		for i := range items {
			if items[i].AuthorFollowers > followers {
				followers = items[i].AuthorFollowers
			}
		}
		if followers < pool.MinFollowers {
			return false
		}
	}

	// Language is permissive: untagged content passes.
	if pool.Language != "" {
		ok := false
		for i := range items {
			lang := items[i].Lang
			if lang == "" || lang == "und" || strings.EqualFold(lang, pool.Language) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if len(keywords) > 0 {
		for i := range items {
			text := strings.ToLower(items[i].Text)
			for _, k := range keywords {
				if strings.Contains(text, k) {
					return true
				}
			}
		}
		return false
	}
	return true
}
