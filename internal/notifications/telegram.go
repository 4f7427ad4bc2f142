// internal/notifications/telegram.go - Telegram Bot API notification sink
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/config"
	"bitaxe-monitor/internal/database"
)

const (
	DefaultAPIURL = "https://api.telegram.org"
	UserAgent     = "BitAxe Monitor/1.0"
)

// ErrNoCredentials is returned by Send when no token or chat id is known.
var ErrNoCredentials = errors.New("telegram credentials missing")

// Sink delivers a rendered notification text.
type Sink interface {
	Send(ctx context.Context, text string) error
	Enabled() bool
}

// SettingsReader is the part of the store the sink needs to resolve
// credentials.
type SettingsReader interface {
	GetSetting(ctx context.Context, key, def string) (string, error)
}

// TelegramSink posts messages through the Bot API sendMessage method.
type TelegramSink struct {
	settings   SettingsReader
	fallback   config.TelegramConfig
	apiURL     string
	httpClient *http.Client

	missingOnce sync.Once
}

// TelegramMessage is the sendMessage request body.
type TelegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// TelegramResponse is the subset of the API envelope we read.
type TelegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewTelegramSink creates a sink. Stored settings take precedence over the
// configured token and chat id; settings may be nil.
func NewTelegramSink(settings SettingsReader, cfg config.TelegramConfig) *TelegramSink {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &TelegramSink{
		settings:   settings,
		fallback:   cfg,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Credentials resolves the token and chat id for the next send.
func (t *TelegramSink) Credentials(ctx context.Context) (token, chatID string) {
	if t.settings != nil {
		if v, err := t.settings.GetSetting(ctx, database.KeyTelegramToken, ""); err == nil {
			token = strings.TrimSpace(v)
		} else {
			logrus.WithError(err).Warn("Failed to read telegram token setting")
		}
		if v, err := t.settings.GetSetting(ctx, database.KeyTelegramChatID, ""); err == nil {
			chatID = strings.TrimSpace(v)
		} else {
			logrus.WithError(err).Warn("Failed to read telegram chat id setting")
		}
	}
	if token == "" {
		token = t.fallback.Token
	}
	if chatID == "" {
		chatID = t.fallback.ChatID
	}
	return token, chatID
}

// Enabled reports whether credentials are available.
func (t *TelegramSink) Enabled() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	token, chatID := t.Credentials(ctx)
	return token != "" && chatID != ""
}

func (t *TelegramSink) Send(ctx context.Context, text string) error {
	token, chatID := t.Credentials(ctx)
	if token == "" || chatID == "" {
		t.missingOnce.Do(func() {
			logrus.Warn("Telegram credentials missing, notifications disabled")
		})
		return ErrNoCredentials
	}

	message := TelegramMessage{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiResp TelegramResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiResp) == nil && apiResp.Description != "" {
			return fmt.Errorf("telegram API error (HTTP %d): %s", resp.StatusCode, apiResp.Description)
		}
		return fmt.Errorf("telegram API error: HTTP %d", resp.StatusCode)
	}

	logrus.WithField("length", len(text)).Debug("Telegram notification sent")
	return nil
}
