// internal/web/settings_handlers.go - alert thresholds and Telegram settings
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/database"
)

const testMessage = "✅ <b>BitAxe Monitor</b>\n\nTelegram notifications are working."

type settingKind int

const (
	kindFloat settingKind = iota
	kindFraction
	kindMinutes
	kindBool
	kindString
)

var settingKinds = map[string]settingKind{
	database.KeyTempLimit:           kindFloat,
	database.KeyVRTempLimit:         kindFloat,
	database.KeyPowerLimit:          kindFloat,
	database.KeyHashRateLowLimit:    kindFloat,
	database.KeyHashRateHighLimit:   kindFloat,
	database.KeyRejectRateLimit:     kindFraction,
	database.KeyAlertCooldown:       kindMinutes,
	database.KeyOfflineAlertEnabled: kindBool,
	database.KeyTelegramEnabled:     kindBool,
	database.KeyDailySummaryEnabled: kindBool,
	database.KeyTelegramToken:       kindString,
	database.KeyTelegramChatID:      kindString,
}

// GET /api/settings
func (s *Server) getSettings(c *gin.Context) {
	settings, err := database.LoadSettings(c.Request.Context(), s.engine.Store())
	if err != nil {
		logrus.WithError(err).Error("Failed to load settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, maskSettings(settings))
}

// POST /api/settings - partial update; unknown keys are ignored
func (s *Server) updateSettings(c *gin.Context) {
	var req map[string]json.RawMessage
	if err := c.ShouldBindJSON(&req); err != nil || len(req) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data received"})
		return
	}

	values, err := validateSettings(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	store := s.engine.Store()
	for key, value := range values {
		if err := store.SetSetting(ctx, key, value); err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to update setting")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	logrus.WithField("keys", keys).Info("Settings updated")

	settings, err := database.LoadSettings(ctx, store)
	if err != nil {
		logrus.WithError(err).Error("Failed to reload settings")
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Settings updated successfully",
		"settings": maskSettings(settings),
	})
}

// validateSettings converts the known keys of req to stored text values.
// Nothing is returned unless every known key is valid.
func validateSettings(req map[string]json.RawMessage) (map[string]string, error) {
	values := make(map[string]string)
	for key, raw := range req {
		kind, known := settingKinds[key]
		if !known {
			continue
		}

		value, err := convertSetting(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %v", key, err)
		}
		if (key == database.KeyTelegramToken || key == database.KeyTelegramChatID) && isMaskedToken(value) {
			continue
		}
		values[key] = value
	}

	low, lowSet := values[database.KeyHashRateLowLimit]
	high, highSet := values[database.KeyHashRateHighLimit]
	if lowSet && highSet {
		l, _ := strconv.ParseFloat(low, 64)
		h, _ := strconv.ParseFloat(high, 64)
		if l > h {
			return nil, fmt.Errorf("hashrate_low_limit must not exceed hashrate_high_limit")
		}
	}

	return values, nil
}

func convertSetting(kind settingKind, raw json.RawMessage) (string, error) {
	if strings.TrimSpace(string(raw)) == "null" {
		return "", fmt.Errorf("must not be null")
	}

	switch kind {
	case kindFloat, kindFraction:
		f, err := jsonNumber(raw)
		if err != nil {
			return "", err
		}
		if f < 0 {
			return "", fmt.Errorf("must not be negative")
		}
		if kind == kindFraction && f > 1 {
			return "", fmt.Errorf("must be between 0 and 1")
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil

	case kindMinutes:
		f, err := jsonNumber(raw)
		if err != nil {
			return "", err
		}
		if f < 0 || f != float64(int(f)) {
			return "", fmt.Errorf("must be a whole number of minutes")
		}
		return strconv.Itoa(int(f)), nil

	case kindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return strconv.FormatBool(b), nil
		}
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", fmt.Errorf("expected a boolean")
		}
		b, err := database.ParseBool(str)
		if err != nil {
			return "", fmt.Errorf("expected a boolean")
		}
		return strconv.FormatBool(b), nil

	default:
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", fmt.Errorf("expected a string")
		}
		return strings.TrimSpace(str), nil
	}
}

// jsonNumber accepts a JSON number or a numeric string.
func jsonNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("expected a number")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return 0, fmt.Errorf("expected a number")
	}
	return f, nil
}

// POST /api/settings/telegram/test - send a test message synchronously
func (s *Server) testTelegram(c *gin.Context) {
	if s.sink == nil || !s.sink.Enabled() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Telegram token and chat id are not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := s.sink.Send(ctx, testMessage); err != nil {
		logrus.WithError(err).Error("Telegram test message failed")
		if s.metrics != nil {
			s.metrics.RecordNotification("error")
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send test message"})
		return
	}
	if s.metrics != nil {
		s.metrics.RecordNotification("sent")
	}

	c.JSON(http.StatusOK, gin.H{"message": "Test message sent successfully"})
}

func maskSettings(s database.Settings) database.Settings {
	if s.TelegramToken != "" {
		s.TelegramToken = maskToken(s.TelegramToken)
	}
	return s
}

// maskToken masks sensitive tokens for API responses
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func isMaskedToken(token string) bool {
	return strings.Contains(token, "*")
}
