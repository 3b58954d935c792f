// Package scopes resolves (method, path) request coordinates to the set of
// scopes a caller must present. Rules are matched in insertion order; the
// first match wins.
package scopes

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Requirement is the scope set a route demands.
type Requirement struct {
	Scopes      []string
	Mode        string // always "all"
	Description string
}

// Rule maps a path pattern (and optional HTTP method) to a Requirement.
// Matcher is an anchored regular expression evaluated against the
// normalized request path (query string stripped).
type Rule struct {
	Matcher     string
	Method      string // empty matches any method
	Scopes      []string
	Description string

	compiled *regexp.Regexp
}

// Catalogue is a process-wide, insertion-ordered list of Rules. Reads
// (ResolveRequirement) may run concurrently with no writes; registration is
// serialized.
type Catalogue struct {
	mu    sync.RWMutex
	rules []Rule
}

// New returns a Catalogue seeded with the gateway's default rules.
func New() *Catalogue {
	c := &Catalogue{}
	c.RegisterRules(DefaultRules())
	return c
}

// RegisterRule appends a single rule, compiling its matcher. It panics if the
// matcher is not a valid regular expression — rules are registered at
// startup, so a bad pattern is a programming error, not a runtime condition.
func (c *Catalogue) RegisterRule(r Rule) {
	re := regexp.MustCompile(anchor(r.Matcher))
	r.compiled = re
	r.Method = strings.ToUpper(r.Method)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, r)
}

// RegisterRules appends multiple rules in order.
func (c *Catalogue) RegisterRules(rules []Rule) {
	for _, r := range rules {
		c.RegisterRule(r)
	}
}

// ListRules returns a copy of the registered rules in insertion order.
func (c *Catalogue) ListRules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// ResolveRequirement normalizes path (strips query), uppercases method, and
// returns the Requirement of the first matching rule, or nil if none match.
func (c *Catalogue) ResolveRequirement(method, path string) *Requirement {
	method = strings.ToUpper(method)
	path = normalizePath(path)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.rules {
		if r.Method != "" && r.Method != method {
			continue
		}
		if r.compiled.MatchString(path) {
			return &Requirement{
				Scopes:      append([]string(nil), r.Scopes...),
				Mode:        "all",
				Description: r.Description,
			}
		}
	}
	return nil
}

func normalizePath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func anchor(pattern string) string {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern = pattern + "$"
	}
	return pattern
}

// DefaultRules returns the gateway's built-in scope rules, in the order the
// spec requires them evaluated.
func DefaultRules() []Rule {
	return []Rule{
		{
			Matcher:     `/api/v1/admin/restore/approve(/.*)?`,
			Scopes:      []string{"admin", "admin:restore:approve"},
			Description: "restore approval",
		},
		{
			Matcher:     `/api/v1/admin/restore(/.*)?`,
			Scopes:      []string{"admin", "admin:restore"},
			Description: "restore workflow",
		},
		{
			Matcher:     `/api/v1/admin/history(/.*)?`,
			Scopes:      []string{"admin"},
			Description: "admin history",
		},
		{
			Matcher:     `/api/v1/admin(/.*)?`,
			Scopes:      []string{"admin"},
			Description: "generic admin",
		},
		{
			Matcher:     `/api/v1/graph(/.*)?`,
			Method:      "GET",
			Scopes:      []string{"graph:read"},
			Description: "graph read",
		},
		{
			Matcher:     `/api/v1/code/analyze(/.*)?`,
			Scopes:      []string{"code:analyze"},
			Description: "code analyze",
		},
		{
			Matcher:     `/api/v1/code(/.*)?`,
			Scopes:      []string{"code:write"},
			Description: "code write",
		},
		{
			Matcher:     `/api/v1/auth/refresh`,
			Method:      "POST",
			Scopes:      []string{"session:refresh"},
			Description: "refresh endpoint",
		},
		{
			Matcher:     `/mcp(/.*)?`,
			Scopes:      []string{"code:analyze"},
			Description: "mcp tool surface",
		},
		{
			Matcher:     `/api/trpc(/.*)?`,
			Scopes:      []string{"code:analyze"},
			Description: "trpc tool surface",
		},
	}
}

// ScopesSatisfyRequirement reports whether granted scopes satisfy req: every
// required scope is present OR granted contains the wildcard "admin" scope.
func ScopesSatisfyRequirement(granted map[string]struct{}, req *Requirement) bool {
	if req == nil {
		return true
	}
	if _, ok := granted["admin"]; ok {
		return true
	}
	for _, s := range req.Scopes {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}
