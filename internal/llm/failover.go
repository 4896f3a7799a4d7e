package llm

import "strings"

// failoverAll is the wildcard that enables failover for every category.
const failoverAll = "all"

// FailoverPolicy is the set of categories that move a call on to the
// next provider. Categories outside the set abort the call immediately.
type FailoverPolicy struct {
	all        bool
	categories map[Category]bool
}

// NewFailoverPolicy builds a policy from configuration values such as
// []string{"timeout", "rate_limit"} or []string{"all"}. Unknown values
// are ignored.
func NewFailoverPolicy(values []string) FailoverPolicy {
	p := FailoverPolicy{categories: make(map[Category]bool)}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == failoverAll {
			p.all = true
			continue
		}
		if c, ok := ParseCategory(v); ok {
			p.categories[c] = true
		}
	}
	return p
}

// ShouldFailover reports whether an error of category c may fail over.
func (p FailoverPolicy) ShouldFailover(c Category) bool {
	return p.all || p.categories[c]
}

// String renders the policy for logs.
func (p FailoverPolicy) String() string {
	if p.all {
		return failoverAll
	}
	names := make([]string, 0, len(p.categories))
	for _, c := range []Category{CategoryTimeout, CategoryRateLimit, CategoryInvalidJSON, CategoryServerError} {
		if p.categories[c] {
			names = append(names, string(c))
		}
	}
	return strings.Join(names, ",")
}
