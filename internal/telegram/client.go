package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	MaxMessageLength = 4096
	MaxCaptionLength = 1024

	maxDownloadBytes = 50 * 1024 * 1024
)

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = "request failed"
	}
	return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, desc)
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
}

// New creates a Bot API client. A nil limiter disables outbound throttling.
func New(httpClient *http.Client, baseURL, token string, limiter *rate.Limiter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limiter: limiter,
	}
}

// BotIDFromToken returns the bot's user id, which is the part of a token
// before the colon.
func BotIDFromToken(token string) (int64, error) {
	idPart, _, ok := strings.Cut(token, ":")
	if !ok {
		return 0, errors.New("telegram: malformed bot token")
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("telegram: malformed bot token")
	}
	return id, nil
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram %s: marshal: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: new request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, method, out)
}

type formFile struct {
	field string
	file  InputFile
}

func (c *Client) callMultipart(ctx context.Context, method string, fields map[string]string, files []formFile, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("telegram %s: write field %s: %w", method, k, err)
		}
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.file.Name))
		ct := f.file.MimeType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("telegram %s: create part: %w", method, err)
		}
		if _, err := part.Write(f.file.Data); err != nil {
			return fmt.Errorf("telegram %s: write part: %w", method, err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("telegram %s: close multipart: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), &buf)
	if err != nil {
		return fmt.Errorf("telegram %s: new request: %w", method, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram %s: read body: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
	}

	if !env.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: env.Description,
		}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// GetUpdates long-polls for updates and returns them together with the
// offset to use for the next call.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration, allowed []string) ([]Update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	var updates []Update
	err := c.call(reqCtx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        secs,
		AllowedUpdates: allowed,
	}, &updates)
	if err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

// IsPollTimeout reports whether err is the expected end of an idle long poll.
func IsPollTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type replyParameters struct {
	MessageID                int64 `json:"message_id"`
	AllowSendingWithoutReply bool  `json:"allow_sending_without_reply"`
}

type sendMessageRequest struct {
	ChatID          int64            `json:"chat_id"`
	Text            string           `json:"text"`
	ReplyParameters *replyParameters `json:"reply_parameters,omitempty"`
}

func replyTo(messageID int64) *replyParameters {
	if messageID == 0 {
		return nil
	}
	return &replyParameters{MessageID: messageID, AllowSendingWithoutReply: true}
}

func replyField(messageID int64) (string, error) {
	b, err := json.Marshal(replyTo(messageID))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyToID int64) (*Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:          chatID,
		Text:            text,
		ReplyParameters: replyTo(replyToID),
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) sendFile(ctx context.Context, method, field string, chatID int64, file InputFile, caption string, replyToID int64) (*Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	fields := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
	}
	if caption != "" {
		fields["caption"] = caption
	}
	if replyToID != 0 {
		rp, err := replyField(replyToID)
		if err != nil {
			return nil, fmt.Errorf("telegram %s: reply parameters: %w", method, err)
		}
		fields["reply_parameters"] = rp
	}

	var msg Message
	if err := c.callMultipart(ctx, method, fields, []formFile{{field: field, file: file}}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, file InputFile, caption string, replyToID int64) (*Message, error) {
	return c.sendFile(ctx, "sendPhoto", "photo", chatID, file, caption, replyToID)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, file InputFile, caption string, replyToID int64) (*Message, error) {
	return c.sendFile(ctx, "sendDocument", "document", chatID, file, caption, replyToID)
}

type inputMediaJSON struct {
	Type    MediaKind `json:"type"`
	Media   string    `json:"media"`
	Caption string    `json:"caption,omitempty"`
}

// SendMediaGroup sends 2-10 items as one album.
func (c *Client) SendMediaGroup(ctx context.Context, chatID int64, items []InputMedia, replyToID int64) ([]*Message, error) {
	if len(items) == 0 {
		return nil, errors.New("telegram sendMediaGroup: no media")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	media := make([]inputMediaJSON, 0, len(items))
	files := make([]formFile, 0, len(items))
	for i, item := range items {
		field := "file" + strconv.Itoa(i)
		media = append(media, inputMediaJSON{
			Type:    item.Kind,
			Media:   "attach://" + field,
			Caption: item.Caption,
		})
		files = append(files, formFile{field: field, file: item.File})
	}

	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return nil, fmt.Errorf("telegram sendMediaGroup: marshal media: %w", err)
	}

	fields := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"media":   string(mediaJSON),
	}
	if replyToID != 0 {
		rp, err := replyField(replyToID)
		if err != nil {
			return nil, fmt.Errorf("telegram sendMediaGroup: reply parameters: %w", err)
		}
		fields["reply_parameters"] = rp
	}

	var msgs []*Message
	if err := c.callMultipart(ctx, "sendMediaGroup", fields, files, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type setReactionRequest struct {
	ChatID    int64          `json:"chat_id"`
	MessageID int64          `json:"message_id"`
	Reaction  []ReactionType `json:"reaction"`
}

// SetMessageReaction replaces the bot's reaction on a message. An empty
// emoji clears it.
func (c *Client) SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	reaction := []ReactionType{}
	if emoji != "" {
		reaction = append(reaction, ReactionType{Type: "emoji", Emoji: emoji})
	}
	return c.call(ctx, "setMessageReaction", setReactionRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Reaction:  reaction,
	}, nil)
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return nil, fmt.Errorf("telegram getFile: missing file_path for %s", fileID)
	}
	return &f, nil
}

// DownloadFile resolves fileID and returns the file contents.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	const op = "telegram.DownloadFile"

	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(f.FilePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: http %d: %s", op, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", op, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("%s: file too large (>%d bytes)", op, maxDownloadBytes)
	}
	return data, nil
}
