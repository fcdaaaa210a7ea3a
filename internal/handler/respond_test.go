package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everimpact/coverage-service/internal/apperr"
)

func TestRespondError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"validation", apperr.Validationf("page_no must be positive"), http.StatusBadRequest, "page_no must be positive"},
		{"conflict", apperr.Conflictf("coverage already exists"), http.StatusBadRequest, "coverage already exists"},
		{"not found", apperr.NotFoundf("coverage does not exist"), http.StatusBadRequest, "coverage does not exist"},
		{"unauthorized", apperr.Unauthorizedf("not authorized"), http.StatusUnauthorized, "not authorized"},
		{"infrastructure hides detail", apperr.Infrastructure("query failed", errors.New(`pq: relation "sensor" does not exist`)), http.StatusInternalServerError, "internal server error"},
		{"foreign error hides detail", errors.New("driver: bad connection"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			require.NoError(t, respondError(c, tt.err))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["error"])
		})
	}
}
