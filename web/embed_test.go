package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSPAHandlerFallsBackToIndex(t *testing.T) {
	t.Parallel()

	h := SPAHandler()
	for _, path := range []string{"/", "/conversations/conv_123"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "<title>Tripdesk</title>", path)
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"), path)
	}
}

func TestSPAHandlerDoesNotShadowAPI(t *testing.T) {
	t.Parallel()

	h := SPAHandler()
	for _, path := range []string{"/api/unknown", "/ws/other"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
