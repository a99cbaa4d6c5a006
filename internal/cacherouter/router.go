// Package cacherouter implements the request-routing policy for read-only
// traffic: API paths go network-first with a fixed timeout and fall back
// to cache or a structured offline placeholder; static assets go
// cache-first; navigation failures land on a pre-cached offline page.
// Non-GET requests and non-http(s) schemes bypass routing entirely.
package cacherouter

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// NetworkTimeout is the fixed race window for network-first routing.
const NetworkTimeout = 5 * time.Second

var defaultStaticExts = []string{
	".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".gif", ".svg",
	".ico", ".woff", ".woff2", ".ttf", ".webp", ".map",
}

// Config parameterizes the router.
type Config struct {
	// Upstream is the origin all relative requests are proxied to.
	Upstream *url.URL
	// APIPrefix marks paths that receive the JSON offline placeholder on
	// total failure. Defaults to "/api/".
	APIPrefix string
	// StaticExts extends the built-in extension set treated cache-first.
	StaticExts []string
	// StaticHosts are known CDN hosts whose requests are treated
	// cache-first regardless of extension.
	StaticHosts []string
	// Timeout overrides NetworkTimeout (tests).
	Timeout time.Duration
}

type cached struct {
	status int
	header http.Header
	body   []byte
}

// Router is an http.Handler implementing the routing policy.
type Router struct {
	cfg         Config
	client      *http.Client
	staticExts  map[string]bool
	staticHosts map[string]bool

	mu          sync.RWMutex
	cache       map[string]cached
	offlinePage []byte
}

// New creates a router for the given upstream.
func New(cfg Config) *Router {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = NetworkTimeout
	}
	r := &Router{
		cfg:         cfg,
		client:      &http.Client{},
		staticExts:  map[string]bool{},
		staticHosts: map[string]bool{},
		cache:       map[string]cached{},
	}
	for _, ext := range defaultStaticExts {
		r.staticExts[ext] = true
	}
	for _, ext := range cfg.StaticExts {
		r.staticExts[strings.ToLower(ext)] = true
	}
	for _, h := range cfg.StaticHosts {
		r.staticHosts[strings.ToLower(h)] = true
	}
	return r
}

// SetOfflinePage pre-caches the page served to failed navigations.
func (r *Router) SetOfflinePage(html []byte) {
	r.mu.Lock()
	r.offlinePage = html
	r.mu.Unlock()
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet || !routableScheme(req) {
		r.passthrough(w, req)
		return
	}

	switch {
	case r.isStatic(req):
		r.cacheFirst(w, req)
	case strings.HasPrefix(req.URL.Path, r.cfg.APIPrefix):
		r.networkFirst(w, req, true)
	default:
		r.networkFirst(w, req, false)
	}
}

func routableScheme(req *http.Request) bool {
	// Relative-form proxy requests carry no scheme; those route to the
	// configured upstream and are always http(s).
	if req.URL.Scheme == "" {
		return true
	}
	return req.URL.Scheme == "http" || req.URL.Scheme == "https"
}

func (r *Router) isStatic(req *http.Request) bool {
	if r.staticHosts[strings.ToLower(req.URL.Hostname())] {
		return true
	}
	return r.staticExts[strings.ToLower(path.Ext(req.URL.Path))]
}

func isNavigation(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func cacheKey(req *http.Request) string { return req.URL.String() }

// networkFirst races the upstream fetch against the fixed timeout. A
// response within the window is cached (2xx only) and returned; on timeout
// or network failure the cached copy is served, then the API placeholder
// or offline page, then a plain bad-gateway.
func (r *Router) networkFirst(w http.ResponseWriter, req *http.Request, api bool) {
	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.Timeout)
	defer cancel()

	resp, err := r.fetch(ctx, req)
	if err == nil {
		if resp.status >= 200 && resp.status <= 299 {
			r.put(cacheKey(req), resp)
		}
		writeCached(w, resp, "miss")
		return
	}
	log.Debug().Str("url", req.URL.String()).Err(err).Msg("network-first fetch failed")

	if hit, ok := r.get(cacheKey(req)); ok {
		writeCached(w, hit, "hit")
		return
	}
	if api {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"offline","offline":true}`))
		return
	}
	if isNavigation(req) && r.serveOfflinePage(w) {
		return
	}
	http.Error(w, "upstream unavailable", http.StatusBadGateway)
}

// cacheFirst serves from cache when present; otherwise fetches, caching
// successful same-origin responses. CDN-host responses are returned but
// never cached.
func (r *Router) cacheFirst(w http.ResponseWriter, req *http.Request) {
	if hit, ok := r.get(cacheKey(req)); ok {
		writeCached(w, hit, "hit")
		return
	}

	resp, err := r.fetch(req.Context(), req)
	if err != nil {
		log.Debug().Str("url", req.URL.String()).Err(err).Msg("cache-first fetch failed")
		if isNavigation(req) && r.serveOfflinePage(w) {
			return
		}
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	if resp.status >= 200 && resp.status <= 299 && r.sameOrigin(req) {
		r.put(cacheKey(req), resp)
	}
	writeCached(w, resp, "miss")
}

// passthrough proxies the request unmodified, no caching, no fallback.
func (r *Router) passthrough(w http.ResponseWriter, req *http.Request) {
	target := r.resolve(req)
	up, err := http.NewRequestWithContext(req.Context(), req.Method, target, req.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	copyHeader(up.Header, req.Header)

	resp, err := r.client.Do(up)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// resolve maps a proxy request to its absolute upstream URL. Requests that
// arrived in absolute form (CDN assets) already carry their target.
func (r *Router) resolve(req *http.Request) string {
	if req.URL.IsAbs() {
		return req.URL.String()
	}
	target := *r.cfg.Upstream
	target.Path = req.URL.Path
	target.RawQuery = req.URL.RawQuery
	return target.String()
}

func (r *Router) sameOrigin(req *http.Request) bool {
	return !req.URL.IsAbs() || req.URL.Host == r.cfg.Upstream.Host
}

func (r *Router) fetch(ctx context.Context, req *http.Request) (cached, error) {
	up, err := http.NewRequestWithContext(ctx, http.MethodGet, r.resolve(req), nil)
	if err != nil {
		return cached{}, err
	}
	copyHeader(up.Header, req.Header)

	resp, err := r.client.Do(up)
	if err != nil {
		return cached{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cached{}, err
	}
	header := http.Header{}
	copyHeader(header, resp.Header)
	return cached{status: resp.StatusCode, header: header, body: body}, nil
}

func (r *Router) get(key string) (cached, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cache[key]
	return c, ok
}

func (r *Router) put(key string, c cached) {
	r.mu.Lock()
	r.cache[key] = c
	r.mu.Unlock()
}

func (r *Router) serveOfflinePage(w http.ResponseWriter) bool {
	r.mu.RLock()
	page := r.offlinePage
	r.mu.RUnlock()
	if page == nil {
		return false
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
	return true
}

func writeCached(w http.ResponseWriter, c cached, state string) {
	copyHeader(w.Header(), c.header)
	w.Header().Set("X-Cache", state)
	w.WriteHeader(c.status)
	_, _ = w.Write(c.body)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
