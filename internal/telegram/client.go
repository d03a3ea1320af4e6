package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const parseModeHTML = "HTML"

// Messenger is the subset of the Bot API the dialogue flows use.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (int64, error)
	SendPhoto(ctx context.Context, chatID int64, photo InputFile, caption string, markup interface{}) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup interface{}) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	fileURL    string
	limiter    *rate.Limiter
}

type ClientOption func(*Client)

// WithAPIURL points the client at a different Bot API server.
func WithAPIURL(apiURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = fmt.Sprintf("%s/bot%s", apiURL, c.token)
		c.fileURL = fmt.Sprintf("%s/file/bot%s", apiURL, c.token)
	}
}

// WithRateLimit caps outbound calls to perSecond with a matching burst.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	}
}

func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(25), 26),
	}
	WithAPIURL("https://api.telegram.org")(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) call(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return c.do(ctx, method, "application/json", bytes.NewReader(body))
}

func (c *Client) do(ctx context.Context, method, contentType string, body io.Reader) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, body)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if !apiResp.OK {
		code := apiResp.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, &APIError{Code: code, Description: apiResp.Description}
	}
	return apiResp.Result, nil
}

func encodeMarkup(markup interface{}) (json.RawMessage, error) {
	if markup == nil {
		return nil, nil
	}
	if v := reflect.ValueOf(markup); v.Kind() == reflect.Ptr && v.IsNil() {
		return nil, nil
	}
	return json.Marshal(markup)
}

func messageID(result json.RawMessage) (int64, error) {
	var msg MessageResult
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg.MessageID, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (int64, error) {
	rm, err := encodeMarkup(markup)
	if err != nil {
		return 0, err
	}
	result, err := c.call(ctx, "sendMessage", SendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseModeHTML,
		ReplyMarkup: rm,
	})
	if err != nil {
		return 0, err
	}
	return messageID(result)
}

// SendPhoto sends by file id when one is known and uploads the bytes
// otherwise.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo InputFile, caption string, markup interface{}) (int64, error) {
	rm, err := encodeMarkup(markup)
	if err != nil {
		return 0, err
	}

	if photo.FileID != "" {
		result, err := c.call(ctx, "sendPhoto", SendPhotoRequest{
			ChatID:      chatID,
			Photo:       photo.FileID,
			Caption:     caption,
			ParseMode:   parseModeHTML,
			ReplyMarkup: rm,
		})
		if err != nil {
			return 0, err
		}
		return messageID(result)
	}

	if len(photo.Data) == 0 {
		return 0, fmt.Errorf("sendPhoto: no file id and no data")
	}
	name := photo.Name
	if name == "" {
		name = "photo.jpg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"caption":    caption,
		"parse_mode": parseModeHTML,
	}
	if rm != nil {
		fields["reply_markup"] = string(rm)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return 0, err
		}
	}
	part, err := w.CreateFormFile("photo", name)
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(photo.Data); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	result, err := c.do(ctx, "sendPhoto", w.FormDataContentType(), &buf)
	if err != nil {
		return 0, err
	}
	return messageID(result)
}

func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup interface{}) error {
	rm, err := encodeMarkup(markup)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "editMessageText", EditMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   parseModeHTML,
		ReplyMarkup: rm,
	})
	return err
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	_, err := c.call(ctx, "answerCallbackQuery", AnswerCallbackQueryRequest{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	return err
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	result, err := c.call(ctx, "getFile", GetFileRequest{FileID: fileID})
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(result, &f); err != nil {
		return nil, fmt.Errorf("unmarshal file: %w", err)
	}
	return &f, nil
}

// DownloadFile resolves fileID and fetches its content.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("getFile: empty file path for %s", fileID)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL+"/"+f.FilePath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Code: resp.StatusCode, Description: "file download failed"}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	result, err := c.call(ctx, "getUpdates", GetUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout.Seconds()),
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("unmarshal updates: %w", err)
	}
	return updates, nil
}

func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	_, err := c.call(ctx, "setWebhook", SetWebhookRequest{
		URL:            url,
		SecretToken:    secretToken,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	return err
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := c.call(ctx, "deleteWebhook", struct{}{})
	return err
}
