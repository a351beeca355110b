package request

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type input struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func decode(t *testing.T, body string) (input, error) {
	t.Helper()

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()

	var dst input
	err := DecodeJSONStrict(w, r, &dst)
	return dst, err
}

func TestDecodeJSONStrict(t *testing.T) {
	got, err := decode(t, `{"name":"Ann","age":17}`)
	require.NoError(t, err)
	assert.Equal(t, input{Name: "Ann", Age: 17}, got)
}

func TestDecodeJSONStrict_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "body must not be empty"},
		{"syntax", `{"name":}`, "badly-formed JSON"},
		{"truncated", `{"name":"Ann"`, "badly-formed JSON"},
		{"type", `{"age":"old"}`, `incorrect JSON type for field "age"`},
		{"unknown field", `{"nickname":"A"}`, `unknown key "nickname"`},
		{"two values", `{"name":"A"}{"name":"B"}`, "single JSON value"},
		{"too large", `{"name":"` + strings.Repeat("a", _maxBodyBytes) + `"}`, "must not be larger than"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(t, tt.body)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
