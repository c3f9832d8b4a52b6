package identity

import "strings"

// Resolver maps content authors onto ledger identities. Unmapped accounts
// are excluded from reward, unless the simulate flag redirects them all to
// the fixed no-code identity for dry-run accounting.
type Resolver struct {
	mappings map[string]int
	noCode   int
	simulate bool
}

// NewResolver builds a resolver over one pool's mappings.
func NewResolver(mappings map[string]int, noCodeIdentity int, simulate bool) *Resolver {
	lowered := make(map[string]int, len(mappings))
	for account, id := range mappings {
		lowered[strings.ToLower(account)] = id
	}
	return &Resolver{mappings: lowered, noCode: noCodeIdentity, simulate: simulate}
}

// Resolve returns the identity for an account. ok is false when the account
// has no mapping and simulation is off.
func (r *Resolver) Resolve(account string) (int, bool) {
	id, ok := r.mappings[strings.ToLower(account)]
	if ok {
		return id, true
	}
	if r.simulate {
		return r.noCode, true
	}
	return 0, false
}

// Mapped reports how many accounts the resolver knows.
func (r *Resolver) Mapped() int {
	return len(r.mappings)
}
