package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	})
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestMiddleware_CachesGET(t *testing.T) {
	calls := 0
	h := Middleware(NewLRU[Response](10, time.Minute))(countingHandler(&calls, http.StatusOK))

	first := serve(h, http.MethodGet, "/api/workflows/1")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(h, http.MethodGet, "/api/workflows/1")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestMiddleware_SkipsNonGETAndErrors(t *testing.T) {
	calls := 0
	h := Middleware(NewLRU[Response](10, time.Minute))(countingHandler(&calls, http.StatusOK))
	serve(h, http.MethodPost, "/api/workflows")
	serve(h, http.MethodPost, "/api/workflows")
	assert.Equal(t, 2, calls)

	calls = 0
	h = Middleware(NewLRU[Response](10, time.Minute))(countingHandler(&calls, http.StatusNotFound))
	serve(h, http.MethodGet, "/api/workflows/9")
	serve(h, http.MethodGet, "/api/workflows/9")
	assert.Equal(t, 2, calls)
}

func TestManager_InvalidateWorkflow(t *testing.T) {
	m := NewManager(DefaultConfig(), "/api/workflows")
	require.NotNil(t, m)

	calls := 0
	h := m.Middleware()(countingHandler(&calls, http.StatusOK))
	for _, target := range []string{
		"/api/workflows/1",
		"/api/workflows/1/questions",
		"/api/workflows/12",
		"/api/workflows/details",
	} {
		serve(h, http.MethodGet, target)
	}
	require.Equal(t, 4, m.Len())

	m.InvalidateWorkflow(1)
	assert.Equal(t, 1, m.Len(), "only the unrelated workflow should stay cached")
	assert.Equal(t, "HIT", serve(h, http.MethodGet, "/api/workflows/12").Header().Get("X-Cache"))
	assert.Equal(t, "MISS", serve(h, http.MethodGet, "/api/workflows/details").Header().Get("X-Cache"))
}

func TestManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	m := NewManager(cfg, "/api/workflows")
	assert.Nil(t, m)

	calls := 0
	h := m.Middleware()(countingHandler(&calls, http.StatusOK))
	serve(h, http.MethodGet, "/api/workflows/1")
	serve(h, http.MethodGet, "/api/workflows/1")
	assert.Equal(t, 2, calls)
	m.InvalidateWorkflow(1)
	assert.Zero(t, m.Len())
}
