package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoints(t *testing.T) {
	storeErr := errors.New("database is locked")
	failing := false
	e := echo.New()
	NewHealthEchoHandler(map[string]HealthCheck{
		"store": func(context.Context) error {
			if failing {
				return storeErr
			}
			return nil
		},
		"stream": func(context.Context) error { return nil },
	}).RegisterRoutes(e)

	get := func(path string) (int, map[string]string) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var env struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		return rec.Code, env.Data
	}

	code, data := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", data["status"])

	code, data = get("/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"store": "ok", "stream": "ok"}, data)

	failing = true
	code, data = get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "database is locked", data["store"])
	assert.Equal(t, "ok", data["stream"])
}
