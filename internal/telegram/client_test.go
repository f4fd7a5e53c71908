package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiCall struct {
	Path   string
	Params map[string]any
}

// fakeAPI is an httptest Bot API that records calls.
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	fail  map[string]string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{fail: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewClient("123:secret", srv.URL, 2*time.Second)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Path: r.URL.Path, Params: params})
	desc, fail := f.fail[r.URL.Path]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": desc})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": true})
}

func (f *fakeAPI) recorded() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func TestClient_SendMessage(t *testing.T) {
	t.Parallel()
	f, c := newFakeAPI(t)

	require.NoError(t, c.SendMessage(context.Background(), 42, "hello"))

	calls := f.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/bot123:secret/sendMessage", calls[0].Path)
	assert.Equal(t, float64(42), calls[0].Params["chat_id"])
	assert.Equal(t, "hello", calls[0].Params["text"])
}

func TestClient_SendMessage_SplitsLongText(t *testing.T) {
	t.Parallel()
	f, c := newFakeAPI(t)

	text := strings.Repeat("a", MaxMessageLength+10)
	require.NoError(t, c.SendMessage(context.Background(), 1, text))

	calls := f.recorded()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0].Params["text"], MaxMessageLength)
	assert.Len(t, calls[1].Params["text"], 10)
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()
	f, c := newFakeAPI(t)
	f.fail["/bot123:secret/setWebhook"] = "Bad Request: bad webhook"

	err := c.SetWebhook(context.Background(), "https://t1.ngrok.test/webhook")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "setWebhook", apiErr.Method)
	assert.Equal(t, 400, apiErr.Code)
	assert.Contains(t, apiErr.Description, "bad webhook")
}

func TestClient_SetWebhook_SendsURL(t *testing.T) {
	t.Parallel()
	f, c := newFakeAPI(t)

	require.NoError(t, c.SetWebhook(context.Background(), "https://t1.ngrok.test/webhook"))

	calls := f.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://t1.ngrok.test/webhook", calls[0].Params["url"])
}

func TestClient_SetMyCommands(t *testing.T) {
	t.Parallel()
	f, c := newFakeAPI(t)

	err := c.SetMyCommands(context.Background(), []BotCommand{{Command: "status", Description: "Get status"}})
	require.NoError(t, err)

	calls := f.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/bot123:secret/setMyCommands", calls[0].Path)
	cmds, ok := calls[0].Params["commands"].([]any)
	require.True(t, ok)
	assert.Len(t, cmds, 1)
}

func TestClient_TransportErrorHidesToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient("123:secret", srv.URL, time.Second)

	err := c.DeleteWebhook(context.Background())

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123:secret")
}

func TestSplitMessage_PrefersNewline(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 7) + "\n" + strings.Repeat("y", 5)
	parts := splitMessage(text, 10)

	assert.Equal(t, []string{strings.Repeat("x", 7) + "\n", strings.Repeat("y", 5)}, parts)
}

func TestSplitMessage_ShortTextUntouched(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
}
