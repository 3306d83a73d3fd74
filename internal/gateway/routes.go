package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"signaldesk/internal/config"
)

// Paths served by the gateway itself; routes may not shadow them.
var reservedPaths = []string{"/livez", "/healthz", "/metrics"}

type route struct {
	prefix   string
	upstream *url.URL
}

type routeTable struct {
	entries []route
}

func newRouteTable(routes []config.Route) (*routeTable, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("no routes configured")
	}
	normalized := make([]route, len(routes))
	for i, r := range routes {
		prefix := strings.TrimSuffix(r.Prefix, "/")
		if prefix == "" {
			return nil, fmt.Errorf("route prefix cannot be empty")
		}
		for _, reserved := range reservedPaths {
			if _, ok := trimPrefix(reserved, prefix); ok {
				return nil, fmt.Errorf("route prefix %q shadows %s", prefix, reserved)
			}
		}
		upstream, err := url.Parse(r.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parse upstream for %s: %w", prefix, err)
		}
		normalized[i] = route{prefix: prefix, upstream: upstream}
	}
	if err := validatePrefixes(normalized); err != nil {
		return nil, err
	}
	sort.SliceStable(normalized, func(i, j int) bool {
		return len(normalized[i].prefix) > len(normalized[j].prefix)
	})
	return &routeTable{entries: normalized}, nil
}

func validatePrefixes(entries []route) error {
	for i := 0; i < len(entries); i++ {
		a := entries[i].prefix
		for j := i + 1; j < len(entries); j++ {
			b := entries[j].prefix
			if _, ok := trimPrefix(a, b); ok {
				return fmt.Errorf("route prefixes %q and %q overlap", a, b)
			}
			if _, ok := trimPrefix(b, a); ok {
				return fmt.Errorf("route prefixes %q and %q overlap", a, b)
			}
		}
	}
	return nil
}

// Resolve returns the route owning path and the remainder below its prefix.
func (t *routeTable) Resolve(path string) (route, string, bool) {
	for _, entry := range t.entries {
		if trimmed, ok := trimPrefix(path, entry.prefix); ok {
			return entry, trimmed, true
		}
	}
	return route{}, "", false
}

func trimPrefix(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	if len(path) > len(prefix) && path[len(prefix)] != '/' {
		return "", false
	}
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == "" {
		return "/", true
	}
	return trimmed, true
}

func (r route) buildURL(path, rawQuery string) string {
	u := *r.upstream
	u.Path = strings.TrimSuffix(r.upstream.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

// buildUpstreamRequest copies the downstream request onto the route's upstream.
// Authorization travels untouched; the browser's bearer token is the upstream's concern.
func (r route) buildUpstreamRequest(ctx context.Context, downstream *http.Request, trimmedPath string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, downstream.Method, r.buildURL(trimmedPath, downstream.URL.RawQuery), body)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header = make(http.Header, len(downstream.Header))
	copyHeaders(req.Header, downstream.Header)
	return req, nil
}
