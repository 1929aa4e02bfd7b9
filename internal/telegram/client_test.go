package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.Client(), srv.URL, "TOKEN", nil)
}

func TestClient_GetUpdates(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/getUpdates", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"date":1,"chat":{"id":5},"text":"hi","from":{"id":7}}},
			{"update_id":12,"message_reaction":{"chat":{"id":5},"message_id":2,"date":1,"old_reaction":[],"new_reaction":[{"type":"emoji","emoji":"👍"}]}}
		]}`)
	})

	updates, next, err := c.GetUpdates(context.Background(), 3, time.Second, []string{"message", "message_reaction"})
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, int64(13), next)
	assert.EqualValues(t, 3, gotBody["offset"])
	assert.Equal(t, "hi", updates[0].Message.Text)
	assert.Equal(t, []string{"👍"}, updates[1].MessageReaction.AddedEmojis())

	payload, err := updates[0].Message.Payload()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"text":"hi"`)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`)
	})

	_, err := c.SendMessage(context.Background(), 1, "x", 0)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "sendMessage", apiErr.Method)
	assert.Equal(t, 429, apiErr.ErrorCode)
	assert.Equal(t, 3, apiErr.RetryAfter)
}

func TestClient_SendMessageReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		rp, ok := req["reply_parameters"].(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, 42, rp["message_id"])
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":43,"date":1,"chat":{"id":1},"text":"x","from":{"id":99,"is_bot":true}}}`)
	})

	msg, err := c.SendMessage(context.Background(), 1, "x", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(43), msg.MessageID)
	assert.True(t, msg.IsFrom(99))
}

func TestClient_SendMediaGroup(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMediaGroup", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "9", r.FormValue("chat_id"))
		assert.Contains(t, r.FormValue("media"), "attach://file0")
		assert.Contains(t, r.FormValue("media"), "attach://file1")
		assert.Len(t, r.MultipartForm.File, 2)
		_, _ = io.WriteString(w, `{"ok":true,"result":[{"message_id":1,"date":1,"chat":{"id":9}},{"message_id":2,"date":1,"chat":{"id":9}}]}`)
	})

	msgs, err := c.SendMediaGroup(context.Background(), 9, []InputMedia{
		{Kind: MediaPhoto, File: InputFile{Name: "a.png", MimeType: "image/png", Data: []byte("a")}, Caption: "hello"},
		{Kind: MediaPhoto, File: InputFile{Name: "b.png", MimeType: "image/png", Data: []byte("b")}},
	}, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestClient_DownloadFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/botTOKEN/getFile":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"file_id":"f","file_unique_id":"u","file_path":"photos/p.jpg"}}`)
		case strings.HasPrefix(r.URL.Path, "/file/botTOKEN/photos/p.jpg"):
			_, _ = io.WriteString(w, "jpegdata")
		default:
			http.NotFound(w, r)
		}
	})

	data, err := c.DownloadFile(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
}

func TestBotIDFromToken(t *testing.T) {
	id, err := BotIDFromToken("123456:ABC-def")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), id)

	for _, bad := range []string{"", "nocolon", "abc:def", "-1:x"} {
		_, err := BotIDFromToken(bad)
		assert.Error(t, err, bad)
	}
}
