package scopes

import "testing"

func scopeSet(ss ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

func TestResolveRequirement_FirstMatchWins(t *testing.T) {
	c := &Catalogue{}
	c.RegisterRules([]Rule{
		{Matcher: `/api/v1/admin/restore(/.*)?`, Scopes: []string{"admin", "admin:restore"}},
		{Matcher: `/api/v1/admin(/.*)?`, Scopes: []string{"admin"}},
	})

	req := c.ResolveRequirement("POST", "/api/v1/admin/restore/jobs/1")
	if req == nil {
		t.Fatal("expected a requirement")
	}
	if len(req.Scopes) != 2 || req.Scopes[0] != "admin" || req.Scopes[1] != "admin:restore" {
		t.Fatalf("expected the earlier, more specific rule to win, got %v", req.Scopes)
	}
}

func TestResolveRequirement_NoMatch(t *testing.T) {
	c := New()
	if req := c.ResolveRequirement("GET", "/unknown/path"); req != nil {
		t.Fatalf("expected nil requirement, got %+v", req)
	}
}

func TestResolveRequirement_MethodSpecific(t *testing.T) {
	c := New()
	req := c.ResolveRequirement("GET", "/api/v1/graph/entity/e1")
	if req == nil || len(req.Scopes) != 1 || req.Scopes[0] != "graph:read" {
		t.Fatalf("expected graph:read requirement, got %+v", req)
	}

	// POST to the same path family isn't covered by the GET-only graph rule.
	req2 := c.ResolveRequirement("POST", "/api/v1/graph/entity/e1")
	if req2 != nil {
		t.Fatalf("expected no requirement for POST graph path, got %+v", req2)
	}
}

func TestResolveRequirement_StripsQuery(t *testing.T) {
	c := New()
	req := c.ResolveRequirement("GET", "/api/v1/graph/search?q=foo&limit=10")
	if req == nil || req.Scopes[0] != "graph:read" {
		t.Fatalf("expected query string to be stripped before matching, got %+v", req)
	}
}

func TestResolveRequirement_RefreshEndpoint(t *testing.T) {
	c := New()
	req := c.ResolveRequirement("post", "/api/v1/auth/refresh")
	if req == nil || req.Scopes[0] != "session:refresh" {
		t.Fatalf("expected session:refresh requirement (method lowercased), got %+v", req)
	}
}

func TestScopesSatisfyRequirement(t *testing.T) {
	req := &Requirement{Scopes: []string{"graph:read", "code:analyze"}}

	if !ScopesSatisfyRequirement(scopeSet("graph:read", "code:analyze"), req) {
		t.Error("expected exact scope match to satisfy requirement")
	}
	if ScopesSatisfyRequirement(scopeSet("graph:read"), req) {
		t.Error("expected missing scope to fail requirement")
	}
	if !ScopesSatisfyRequirement(scopeSet("admin"), req) {
		t.Error("expected wildcard admin scope to satisfy any requirement")
	}
	if !ScopesSatisfyRequirement(scopeSet(), nil) {
		t.Error("expected nil requirement to always be satisfied")
	}
}
