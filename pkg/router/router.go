// Package router classifies intercepted requests and picks a fetch
// strategy. It is pure dispatch: no caching logic lives here.
package router

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Class is the strategy a request is dispatched to.
type Class int

const (
	// ClassPassThrough requests are not intercepted at all.
	ClassPassThrough Class = iota
	ClassNavigation
	ClassAIContent
	ClassAPI
	ClassStaticAsset
)

func (c Class) String() string {
	switch c {
	case ClassPassThrough:
		return "pass_through"
	case ClassNavigation:
		return "navigation"
	case ClassAIContent:
		return "ai"
	case ClassAPI:
		return "api"
	case ClassStaticAsset:
		return "static"
	default:
		return "invalid"
	}
}

// ParseClass resolves a class name used in rule configs.
func ParseClass(s string) (Class, bool) {
	switch s {
	case "pass_through":
		return ClassPassThrough, true
	case "navigation":
		return ClassNavigation, true
	case "ai":
		return ClassAIContent, true
	case "api":
		return ClassAPI, true
	case "static":
		return ClassStaticAsset, true
	default:
		return 0, false
	}
}

var defaultAIPatterns = []string{"/api/ai/", "/api/chat", "/assistant/", "/automation/"}

var defaultAPIPatterns = []string{"/api/", "/functions/", "/.netlify/functions/"}

var nopLogger = zap.NewNop()

type Opts struct {
	// OriginHost is the gateway's own origin. Required.
	OriginHost string

	// APIHost is an optional separate API origin that is still
	// intercepted.
	APIHost string

	// FontHosts are foreign hosts whose requests are intercepted as
	// static assets (web font CDNs).
	FontHosts []string

	// AIPatterns and APIPatterns classify paths. A pattern starting with
	// "/" matches as a prefix, anything else as a substring.
	AIPatterns  []string
	APIPatterns []string

	// Rules are optional config-driven overrides, first match wins. They
	// run after the cross-origin check, so foreign origins can never be
	// forced into interception, and before the built-in order.
	Rules []RuleConfig

	Logger *zap.Logger
}

type Router struct {
	opts  Opts
	rules []*rule
}

func New(opts Opts) (*Router, error) {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if len(opts.AIPatterns) == 0 {
		opts.AIPatterns = defaultAIPatterns
	}
	if len(opts.APIPatterns) == 0 {
		opts.APIPatterns = defaultAPIPatterns
	}

	r := &Router{opts: opts}
	for i, rc := range opts.Rules {
		ru, err := parseRule(rc)
		if err != nil {
			return nil, err
		}
		r.rules = append(r.rules, ru)
		opts.Logger.Info("loaded route rule",
			zap.Int("index", i), zap.String("if", rc.If), zap.String("class", rc.Class))
	}
	return r, nil
}

// Classify picks the strategy class for req. The built-in order is
// load-bearing: navigation is decided before the AI and API patterns so a
// full-page load whose path happens to match them still gets the offline
// fallback instead of a bare API error.
func (r *Router) Classify(req *http.Request) Class {
	host := requestHost(req)
	if !r.intercepted(host) {
		return ClassPassThrough
	}

	attrs := r.attributes(req, host)
	for _, ru := range r.rules {
		ok, err := ru.match(attrs)
		if err != nil {
			r.opts.Logger.Warn("route rule failed", zap.String("if", ru.src), zap.Error(err))
			continue
		}
		if ok {
			return ru.class
		}
	}

	switch {
	case attrs["is_navigation"].(bool):
		return ClassNavigation
	case attrs["is_ai_path"].(bool):
		return ClassAIContent
	case attrs["is_api_path"].(bool) || attrs["is_api_host"].(bool):
		return ClassAPI
	default:
		return ClassStaticAsset
	}
}

func (r *Router) intercepted(host string) bool {
	if host == "" || strings.EqualFold(host, r.opts.OriginHost) {
		return true
	}
	if r.opts.APIHost != "" && strings.EqualFold(host, r.opts.APIHost) {
		return true
	}
	for _, fh := range r.opts.FontHosts {
		if strings.EqualFold(host, fh) {
			return true
		}
	}
	return false
}

// attributes are the named booleans rule expressions can reference.
func (r *Router) attributes(req *http.Request, host string) map[string]interface{} {
	path := req.URL.Path
	return map[string]interface{}{
		"is_navigation": isNavigation(req),
		"is_ai_path":    matchAny(path, r.opts.AIPatterns),
		"is_api_path":   matchAny(path, r.opts.APIPatterns),
		"is_api_host":   r.opts.APIHost != "" && strings.EqualFold(host, r.opts.APIHost),
		"is_font_host":  r.isFontHost(host),
		"is_get":        req.Method == http.MethodGet || req.Method == http.MethodHead,
		"is_mutation":   req.Method != http.MethodGet && req.Method != http.MethodHead,
	}
}

func (r *Router) isFontHost(host string) bool {
	for _, fh := range r.opts.FontHosts {
		if strings.EqualFold(host, fh) {
			return true
		}
	}
	return false
}

func isNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	// Older clients: a full-page load asks for html first.
	accept := req.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}

func matchAny(path string, patterns []string) bool {
	for _, p := range patterns {
		if strings.HasPrefix(p, "/") {
			if strings.HasPrefix(path, p) || path == strings.TrimSuffix(p, "/") {
				return true
			}
		} else if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// requestHost is the host the request targets. For proxied requests this is
// the URL host, otherwise the Host header.
func requestHost(req *http.Request) string {
	if req.URL != nil && req.URL.Host != "" {
		return stripPort(req.URL.Host)
	}
	return stripPort(req.Host)
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}
