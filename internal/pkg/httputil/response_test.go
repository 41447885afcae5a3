package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-engine/internal/domain"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{&domain.ValidationError{Field: "name", Reason: "is required"}, http.StatusBadRequest, "validation"},
		{fmt.Errorf("wrap: %w", &domain.NotFoundError{Resource: "segment", ID: "s"}), http.StatusNotFound, "not_found"},
		{&domain.ConflictError{Resource: "campaign", ID: "c", State: "running"}, http.StatusConflict, "conflict"},
		{&domain.TranslationError{Input: "x", Err: errors.New("bad")}, http.StatusUnprocessableEntity, "translation"},
		{&domain.StoreError{Op: "count", Err: errors.New("down")}, http.StatusServiceUnavailable, "store"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteError(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.code, body.Code)
	}
}

func TestWriteError_ValidationCarriesField(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &domain.ValidationError{Field: "rules[0].value2", Reason: "is required for between"})

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rules[0].value2", body.Field)
}

func TestDecode(t *testing.T) {
	var dst struct{ Name string }

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"Name":"x"}`))
	assert.True(t, Decode(rec, req, &dst))
	assert.Equal(t, "x", dst.Name)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.False(t, Decode(rec, req, &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.False(t, Decode(rec, req, &dst))
	assert.Contains(t, rec.Body.String(), "request body is required")
}
