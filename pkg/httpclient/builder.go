package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// pathParamPattern matches {name} placeholders in request paths
var pathParamPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_-]*)\}`)

// secretParams are query parameters stripped from logged URLs
var secretParams = []string{"api_key", "key", "apikey", "token"}

// Request describes a GET against an upstream API
type Request struct {
	BaseURL    string
	Path       string
	PathParams map[string]string
	Query      url.Values
	Headers    map[string]string
}

// NewRequest starts a request against baseURL + path
func NewRequest(baseURL, path string) *Request {
	return &Request{
		BaseURL:    baseURL,
		Path:       path,
		PathParams: make(map[string]string),
		Query:      url.Values{},
		Headers:    make(map[string]string),
	}
}

// Param sets a {name} path placeholder
func (r *Request) Param(name, value string) *Request {
	r.PathParams[name] = value
	return r
}

// Set sets a query parameter. Empty values are skipped.
func (r *Request) Set(key, value string) *Request {
	if value != "" {
		r.Query.Set(key, value)
	}
	return r
}

// Add appends a query parameter
func (r *Request) Add(key, value string) *Request {
	if value != "" {
		r.Query.Add(key, value)
	}
	return r
}

// Header sets a request header
func (r *Request) Header(key, value string) *Request {
	if value != "" {
		r.Headers[key] = value
	}
	return r
}

// URL resolves the path placeholders and query into an absolute URL
func (r *Request) URL() (string, error) {
	var missing []string
	path := pathParamPattern.ReplaceAllStringFunc(r.Path, func(m string) string {
		name := m[1 : len(m)-1]
		value, ok := r.PathParams[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(value)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing path params: %s", strings.Join(missing, ", "))
	}

	parsed, err := url.Parse(strings.TrimRight(r.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if len(r.Query) > 0 {
		query := parsed.Query()
		for key, values := range r.Query {
			for _, v := range values {
				query.Add(key, v)
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// Build creates the *http.Request
func (r *Request) Build(ctx context.Context) (*http.Request, error) {
	u, err := r.URL()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// redact renders u without credentials in the query string
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	query := clone.Query()
	changed := false
	for _, p := range secretParams {
		if query.Has(p) {
			query.Set(p, "REDACTED")
			changed = true
		}
	}
	if changed {
		clone.RawQuery = query.Encode()
	}
	return clone.String()
}
