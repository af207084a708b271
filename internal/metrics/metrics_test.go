package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/images/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler())

	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/images/"+id, nil))
		require.Equal(t, http.StatusTeapot, rr.Code)
	}
	RecordWrite("image.created")
	RecordUpload(42)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `crystal_http_requests_total{method="GET",route="/images/{id}",status="418"} 3`)
	assert.Contains(t, string(body), `crystal_gallery_writes_total{kind="image.created"} 1`)
	assert.Contains(t, string(body), `crystal_storage_uploaded_bytes_total 42`)
}
