package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/markdave123-py/uwia/internal/config"
)

func TestRouterHealthAndAuth(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{CorsOrigins: []string{"*"}, JWTSecret: "s3cret"}
	cfg.Processing.MaxUploadBytes = 1 << 20
	h := NewRouter(cfg, nil, nil, nil, log)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, apiPrefix+"/status/abc", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, apiPrefix+"/unknown", nil))
	if rec.Code != http.StatusUnauthorized && rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route code = %d", rec.Code)
	}
}
