// Package policy holds the caller-supplied configuration an analysis runs
// under: known secrets, the action trust registry, and organizational
// constraints. A Policy is built once and treated as read-only for the
// lifetime of the engine; concurrent analyses share it without locks.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Policy is the immutable configuration injected at engine construction.
type Policy struct {
	// KnownSecrets are the secret names the project has configured.
	// Secret references outside this set lower the secret-reference
	// sub-score. An empty list disables that validation.
	KnownSecrets []string

	// Trust is the action trust registry.
	Trust TrustRegistry

	// RequiredPipelines are pipeline types the organization mandates;
	// the coordinator reports requested sets that miss one.
	RequiredPipelines []string

	// ForbiddenActions are owner/repo slugs that must not be used.
	ForbiddenActions []string

	// MaxMatrixProduct caps matrix expansion before the inefficient
	// matrix rule fires.
	MaxMatrixProduct int

	// Weights controls the overall score combination.
	Weights ScoreWeights
}

// DefaultMaxMatrixProduct is the matrix expansion threshold.
const DefaultMaxMatrixProduct = 20

// Default returns the policy used when the caller supplies nothing:
// first-party action owners trusted, default weights, no secret list.
func Default() *Policy {
	return &Policy{
		Trust:            NewTrustRegistry(DefaultTrustedOwners(), nil),
		MaxMatrixProduct: DefaultMaxMatrixProduct,
		Weights:          DefaultWeights(),
	}
}

// Normalized returns the policy with zero values replaced by defaults.
// The receiver is not modified.
func (p *Policy) Normalized() *Policy {
	if p == nil {
		return Default()
	}
	out := *p
	if out.MaxMatrixProduct <= 0 {
		out.MaxMatrixProduct = DefaultMaxMatrixProduct
	}
	if out.Weights.Total() == 0 {
		out.Weights = DefaultWeights()
	}
	if out.Trust.IsZero() {
		out.Trust = NewTrustRegistry(DefaultTrustedOwners(), nil)
	}
	return &out
}

// KnowsSecret reports whether the secret name is in the known set.
func (p *Policy) KnowsSecret(name string) bool {
	for _, s := range p.KnownSecrets {
		if s == name {
			return true
		}
	}
	return false
}

// Forbidden reports whether an action slug is organizationally banned.
func (p *Policy) Forbidden(slug string) bool {
	for _, f := range p.ForbiddenActions {
		if strings.EqualFold(f, slug) {
			return true
		}
	}
	return false
}

// TrustRegistry is the set of action owners and owner/repo slugs that are
// considered reviewed. Built once, never mutated afterwards.
type TrustRegistry struct {
	owners map[string]bool
	slugs  map[string]bool
}

// DefaultTrustedOwners returns the first-party owners trusted out of the
// box.
func DefaultTrustedOwners() []string {
	return []string{"actions", "github"}
}

// NewTrustRegistry builds a registry from owner names and owner/repo
// slugs. Entries are matched case-insensitively.
func NewTrustRegistry(owners, slugs []string) TrustRegistry {
	t := TrustRegistry{
		owners: make(map[string]bool, len(owners)),
		slugs:  make(map[string]bool, len(slugs)),
	}
	for _, o := range owners {
		t.owners[strings.ToLower(o)] = true
	}
	for _, s := range slugs {
		t.slugs[strings.ToLower(s)] = true
	}
	return t
}

// IsZero reports whether the registry holds no entries.
func (t TrustRegistry) IsZero() bool {
	return len(t.owners) == 0 && len(t.slugs) == 0
}

// TrustedOwner reports whether the owner is trusted.
func (t TrustRegistry) TrustedOwner(owner string) bool {
	return t.owners[strings.ToLower(owner)]
}

// TrustedSlug reports whether the owner/repo slug is trusted, either
// directly or through its owner.
func (t TrustRegistry) TrustedSlug(slug string) bool {
	lower := strings.ToLower(slug)
	if t.slugs[lower] {
		return true
	}
	owner, _, found := strings.Cut(lower, "/")
	return found && t.owners[owner]
}

// Owners returns the trusted owner names, sorted.
func (t TrustRegistry) Owners() []string {
	owners := make([]string, 0, len(t.owners))
	for o := range t.owners {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}

// ScoreWeights is the percentage contribution of each sub-score to the
// overall score. The five weights must total exactly 100.
type ScoreWeights struct {
	Syntax      int
	ActionRefs  int
	SecretRefs  int
	Performance int
	Security    int
}

// DefaultWeights gives every sub-score an equal 20% share.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		Syntax:      20,
		ActionRefs:  20,
		SecretRefs:  20,
		Performance: 20,
		Security:    20,
	}
}

// Total returns the sum of all weights.
func (w ScoreWeights) Total() int {
	return w.Syntax + w.ActionRefs + w.SecretRefs + w.Performance + w.Security
}

// Validate checks the weights are individually sane and total 100.
func (w ScoreWeights) Validate() error {
	for _, entry := range []struct {
		name  string
		value int
	}{
		{"syntax", w.Syntax},
		{"action-refs", w.ActionRefs},
		{"secret-refs", w.SecretRefs},
		{"performance", w.Performance},
		{"security", w.Security},
	} {
		if entry.value < 15 || entry.value > 25 {
			return fmt.Errorf("weight %s = %d, must be between 15 and 25", entry.name, entry.value)
		}
	}
	if w.Total() != 100 {
		return fmt.Errorf("weights total %d, must total 100", w.Total())
	}
	return nil
}

// Provider is the collaborator interface a configuration layer implements
// to supply policies to the engine.
type Provider interface {
	KnownSecrets() ([]string, error)
	Policies() (*Policy, error)
}
