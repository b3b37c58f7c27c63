package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pashagolub/pgxmock/v4"
)

func runHealth(t *testing.T, deps map[string]Pinger, stats func() *PoolStats) (int, map[string]any) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := HealthHandler(deps, stats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()
	mock.ExpectPing()

	stats := func() *PoolStats { return &PoolStats{TotalConns: 3, MaxConns: 20} }
	code, body := runHealth(t, map[string]Pinger{"postgres": mock}, stats)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("expected healthy 200, got %d %v", code, body)
	}
	pool, ok := body["pool"].(map[string]any)
	if !ok || pool["max_conns"] != float64(20) {
		t.Errorf("expected pool stats in body, got %v", body["pool"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	deps := map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	code, body := runHealth(t, deps, nil)
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Fatalf("expected unhealthy 503, got %d %v", code, body)
	}
	checks := body["checks"].(map[string]any)
	if checks["postgres"] != "ok" || checks["redis"] != "connection refused" {
		t.Errorf("unexpected checks %v", checks)
	}
	if _, ok := body["pool"]; ok {
		t.Error("pool stats should be omitted without a stats func")
	}
}
