package functions

import "testing"

func TestRouteMatches(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"/api/users/:id", "/api/users/123", true},
		{"/api/*", "/api/anything/here", true},
		{"/api/users", "/api/posts", false},
		{"/hello", "/hello", true},
		{"/hello", "/hello/", false},
		{"/api/users/:id", "/api/users/123/posts", false},
		{"/api/users/:id", "/api/users", false},
		{"/a/:x/c/:y", "/a/1/c/2", true},
		{"/a/:x/c/:y", "/a/1/d/2", false},
		{"/api/*", "/api", true},
		{"/api/*", "/other/thing", false},
	}
	for _, tt := range tests {
		if got := RouteMatches(tt.pattern, tt.path); got != tt.want {
			t.Errorf("RouteMatches(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestExtractParams(t *testing.T) {
	got := ExtractParams("/users/:id/posts/:post", "/users/42/posts/7")
	if got["id"] != "42" || got["post"] != "7" || len(got) != 2 {
		t.Errorf("params = %v", got)
	}
	if got := ExtractParams("/users/:id", "/teams/42"); len(got) != 0 {
		t.Errorf("mismatched path gave params %v", got)
	}
	if got := ExtractParams("/static/*", "/static/a/b"); len(got) != 0 {
		t.Errorf("wildcard gave params %v", got)
	}
	if got := ExtractParams("/plain", "/plain"); got == nil || len(got) != 0 {
		t.Errorf("plain route params = %v", got)
	}
}
