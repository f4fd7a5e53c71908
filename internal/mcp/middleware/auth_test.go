package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(header string) *httptest.ResponseRecorder {
	h := BearerAuth("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerAuth_ValidToken_PassesThrough(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusNoContent, serve("Bearer s3cret").Code)
	assert.Equal(t, http.StatusNoContent, serve("bearer s3cret").Code)
}

func TestBearerAuth_MissingHeader_Challenges(t *testing.T) {
	t.Parallel()
	rec := serve("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestBearerAuth_WrongScheme_Rejected(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusUnauthorized, serve("Basic s3cret").Code)
}

func TestBearerAuth_WrongToken_Rejected(t *testing.T) {
	t.Parallel()
	rec := serve("Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}
