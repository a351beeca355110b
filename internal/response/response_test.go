package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	err := JSONWithHeaders(rec, http.StatusCreated, JSONObject{"status": "OK"}, http.Header{"X-Trace-Id": {"abc"}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "abc", rec.Header().Get("X-Trace-Id"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
}

func TestJSON_Unmarshalable(t *testing.T) {
	rec := httptest.NewRecorder()

	err := JSON(rec, http.StatusOK, JSONObject{"ch": make(chan int)})
	require.Error(t, err)
	assert.Zero(t, rec.Body.Len())
}

func TestMetricsResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	mw := NewMetricsResponseWriter(rec)

	mw.WriteHeader(http.StatusNotFound)
	mw.WriteHeader(http.StatusInternalServerError)
	_, err := mw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, mw.StatusCode)
	assert.Equal(t, 5, mw.BytesCount)
	assert.Equal(t, rec, mw.Unwrap())
}

func TestMetricsResponseWriter_ImplicitOK(t *testing.T) {
	mw := NewMetricsResponseWriter(httptest.NewRecorder())

	_, err := mw.Write([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, mw.StatusCode)
}
