package bot

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAPI points a real BotAPI at a local server answering every
// call with a generic ok response, recording the parsed requests.
func newTestAPI(t *testing.T, requests *[]*http.Request) *tgbotapi.BotAPI {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		*requests = append(*requests, r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"fuel","username":"fuel_control_bot"}}`))
	}))
	t.Cleanup(server.Close)

	api, err := tgbotapi.NewBotAPIWithClient("test-token", server.URL+"/bot%s/%s", server.Client())
	require.NoError(t, err)

	return api
}

func TestSetWebhook_SendsSecretToken(t *testing.T) {
	var requests []*http.Request
	b := NewTelegramBot(newTestAPI(t, &requests), nil, testLogger())

	require.NoError(t, b.SetWebhook("https://example.com/telegram/webhook", "top-secret"))

	last := requests[len(requests)-1]
	assert.True(t, strings.HasSuffix(last.URL.Path, "/setWebhook"), "path: %s", last.URL.Path)
	assert.Equal(t, "https://example.com/telegram/webhook", last.PostForm.Get("url"))
	assert.Equal(t, "top-secret", last.PostForm.Get("secret_token"))
}

func TestSetWebhook_OmitsEmptySecret(t *testing.T) {
	var requests []*http.Request
	b := NewTelegramBot(newTestAPI(t, &requests), nil, testLogger())

	require.NoError(t, b.SetWebhook("https://example.com/telegram/webhook", ""))

	last := requests[len(requests)-1]
	assert.Equal(t, "https://example.com/telegram/webhook", last.PostForm.Get("url"))
	_, present := last.PostForm["secret_token"]
	assert.False(t, present, "empty secret must not be sent at all")
}
