package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Channel delivers alert payloads to a destination such as a chat id.
type Channel interface {
	SendText(ctx context.Context, dest, text string) error
	SendImage(ctx context.Context, dest, name string, png []byte) error
}

// TelegramChannel 通过 Telegram Bot API 推送文本和图片。
type TelegramChannel struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramChannel 构造 Telegram 通道。
func NewTelegramChannel(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramChannel{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// SendText 调用 sendMessage API 推送文本。
func (c *TelegramChannel) SendText(ctx context.Context, dest, text string) error {
	payload := map[string]string{
		"chat_id": dest,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	if err := c.post(ctx, "sendMessage", "application/json", bytes.NewReader(body)); err != nil {
		return err
	}

	c.logger.Info().Str("chat", dest).Msg("告警文本已发送 (Telegram)")
	return nil
}

// SendImage 调用 sendPhoto API 以 multipart 上传 PNG。
func (c *TelegramChannel) SendImage(ctx context.Context, dest, name string, png []byte) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("chat_id", dest); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	part, err := form.CreateFormFile("photo", name)
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(png); err != nil {
		return fmt.Errorf("write photo part: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	if err := c.post(ctx, "sendPhoto", form.FormDataContentType(), &body); err != nil {
		return err
	}

	c.logger.Info().Str("chat", dest).Str("file", name).Int("bytes", len(png)).Msg("告警图片已发送 (Telegram)")
	return nil
}

func (c *TelegramChannel) post(ctx context.Context, method, contentType string, body io.Reader) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read telegram %s response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if desc := gjson.GetBytes(raw, "description").String(); desc != "" {
			return fmt.Errorf("telegram %s 响应码异常: %d (%s)", method, resp.StatusCode, desc)
		}
		return fmt.Errorf("telegram %s 响应码异常: %d", method, resp.StatusCode)
	}

	if ok := gjson.GetBytes(raw, "ok"); ok.Exists() && !ok.Bool() {
		if desc := gjson.GetBytes(raw, "description").String(); desc != "" {
			return fmt.Errorf("telegram %s 返回 ok=false: %s", method, desc)
		}
		return fmt.Errorf("telegram %s 返回 ok=false", method)
	}
	return nil
}

var _ Channel = (*TelegramChannel)(nil)
