package cache

import (
	"bytes"
	"net/http"
	"strconv"
)

// Response is a cached HTTP body.
type Response struct {
	Body        []byte
	ContentType string
}

// captureWriter records the status and body passed to the wrapped writer.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware caches successful GET responses keyed by request URI. Responses
// carry X-Cache: HIT or MISS.
func Middleware(c *LRU[Response]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil || r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := r.URL.RequestURI()
			if cached, ok := c.Get(key); ok {
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached.Body)
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			cw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(cw, r)
			if cw.status == http.StatusOK {
				c.Set(key, Response{
					Body:        bytes.Clone(cw.body.Bytes()),
					ContentType: cw.Header().Get("Content-Type"),
				})
			}
		})
	}
}

// Manager owns the workflow read cache and knows which entries a workflow
// mutation makes stale. A nil Manager is valid and caches nothing.
type Manager struct {
	responses *LRU[Response]
	prefix    string
}

// NewManager returns nil when cfg disables caching. prefix is the URL prefix
// under which workflow resources are served, e.g. "/api/workflows".
func NewManager(cfg Config, prefix string) *Manager {
	if !cfg.Enabled {
		return nil
	}
	return &Manager{responses: NewLRU[Response](cfg.MaxSize, cfg.TTL), prefix: prefix}
}

// Middleware returns the caching middleware, or a pass-through when m is nil.
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return Middleware(m.responses)
}

// InvalidateWorkflow drops the cached views of one workflow together with
// every listing that includes it.
func (m *Manager) InvalidateWorkflow(id int64) {
	if m == nil {
		return
	}
	base := m.prefix + "/" + strconv.FormatInt(id, 10)
	m.responses.Invalidate(base)
	m.responses.InvalidatePrefix(base + "/")
	m.responses.InvalidatePrefix(base + "?")
	m.InvalidateListings()
}

// InvalidateListings drops cached listings spanning all workflows.
func (m *Manager) InvalidateListings() {
	if m == nil {
		return
	}
	m.responses.InvalidatePrefix(m.prefix + "/details")
	m.responses.InvalidatePrefix(m.prefix + "/questions")
}

// Len returns the number of cached responses.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return m.responses.Len()
}
