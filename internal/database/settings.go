// internal/database/settings.go
package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Setting keys
const (
	KeyTempLimit           = "temp_limit"
	KeyVRTempLimit         = "vr_temp_limit"
	KeyPowerLimit          = "power_limit"
	KeyHashRateLowLimit    = "hashrate_low_limit"
	KeyHashRateHighLimit   = "hashrate_high_limit"
	KeyRejectRateLimit     = "reject_rate_limit"
	KeyAlertCooldown       = "alert_cooldown_minutes"
	KeyOfflineAlertEnabled = "offline_alert_enabled"
	KeyTelegramEnabled     = "telegram_enabled"
	KeyTelegramToken       = "telegram_token"
	KeyTelegramChatID      = "telegram_chat_id"
	KeyDailySummaryEnabled = "daily_summary_enabled"
)

// Settings is the typed view over the settings bucket.
type Settings struct {
	TempLimit           float64 `json:"temp_limit"`
	VRTempLimit         float64 `json:"vr_temp_limit"`
	PowerLimit          float64 `json:"power_limit"`
	HashRateLowLimit    float64 `json:"hashrate_low_limit"`
	HashRateHighLimit   float64 `json:"hashrate_high_limit"`
	RejectRateLimit     float64 `json:"reject_rate_limit"`
	AlertCooldown       int     `json:"alert_cooldown_minutes"`
	OfflineAlertEnabled bool    `json:"offline_alert_enabled"`
	TelegramEnabled     bool    `json:"telegram_enabled"`
	TelegramToken       string  `json:"telegram_token"`
	TelegramChatID      string  `json:"telegram_chat_id"`
	DailySummaryEnabled bool    `json:"daily_summary_enabled"`
}

func DefaultSettings() Settings {
	return Settings{
		TempLimit:           85,
		VRTempLimit:         78,
		PowerLimit:          20,
		HashRateLowLimit:    400,
		HashRateHighLimit:   800,
		RejectRateLimit:     0.01,
		AlertCooldown:       15,
		OfflineAlertEnabled: true,
		TelegramEnabled:     false,
		DailySummaryEnabled: true,
	}
}

// CooldownWindow returns the cooldown as a duration.
func (s Settings) CooldownWindow() time.Duration {
	return time.Duration(s.AlertCooldown) * time.Minute
}

// CriticalTempLimit is the board temperature above which the critical alert fires.
func (s Settings) CriticalTempLimit() float64 {
	return s.TempLimit + 10
}

// Values renders the settings as stored text values.
func (s Settings) Values() map[string]string {
	return map[string]string{
		KeyTempLimit:           formatFloat(s.TempLimit),
		KeyVRTempLimit:         formatFloat(s.VRTempLimit),
		KeyPowerLimit:          formatFloat(s.PowerLimit),
		KeyHashRateLowLimit:    formatFloat(s.HashRateLowLimit),
		KeyHashRateHighLimit:   formatFloat(s.HashRateHighLimit),
		KeyRejectRateLimit:     formatFloat(s.RejectRateLimit),
		KeyAlertCooldown:       strconv.Itoa(s.AlertCooldown),
		KeyOfflineAlertEnabled: strconv.FormatBool(s.OfflineAlertEnabled),
		KeyTelegramEnabled:     strconv.FormatBool(s.TelegramEnabled),
		KeyTelegramToken:       s.TelegramToken,
		KeyTelegramChatID:      s.TelegramChatID,
		KeyDailySummaryEnabled: strconv.FormatBool(s.DailySummaryEnabled),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// LoadSettings reads every known key. A missing key takes its default; a
// value that does not parse takes its default and logs a warning. Only a
// storage failure is returned as an error, together with the defaults.
func LoadSettings(ctx context.Context, store Store) (Settings, error) {
	s := DefaultSettings()

	stored, err := store.GetSettings(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}

	raw := func(key string) (string, bool) {
		setting, ok := stored[key]
		return strings.TrimSpace(setting.Value), ok
	}

	floatSetting := func(key string, dst *float64) {
		if v, ok := raw(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				warnSetting(key, v, *dst)
				return
			}
			*dst = f
		}
	}
	boolSetting := func(key string, dst *bool) {
		if v, ok := raw(key); ok {
			b, err := ParseBool(v)
			if err != nil {
				warnSetting(key, v, *dst)
				return
			}
			*dst = b
		}
	}

	floatSetting(KeyTempLimit, &s.TempLimit)
	floatSetting(KeyVRTempLimit, &s.VRTempLimit)
	floatSetting(KeyPowerLimit, &s.PowerLimit)
	floatSetting(KeyHashRateLowLimit, &s.HashRateLowLimit)
	floatSetting(KeyHashRateHighLimit, &s.HashRateHighLimit)
	floatSetting(KeyRejectRateLimit, &s.RejectRateLimit)

	if v, ok := raw(KeyAlertCooldown); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			warnSetting(KeyAlertCooldown, v, s.AlertCooldown)
		} else {
			s.AlertCooldown = n
		}
	}

	boolSetting(KeyOfflineAlertEnabled, &s.OfflineAlertEnabled)
	boolSetting(KeyTelegramEnabled, &s.TelegramEnabled)
	boolSetting(KeyDailySummaryEnabled, &s.DailySummaryEnabled)

	if v, ok := raw(KeyTelegramToken); ok {
		s.TelegramToken = v
	}
	if v, ok := raw(KeyTelegramChatID); ok {
		s.TelegramChatID = v
	}

	return s, nil
}

// ParseBool accepts the spellings used by the settings form in addition to
// strconv's.
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "on", "enabled":
		return true, nil
	case "no", "off", "disabled", "":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func warnSetting(key, value string, fallback interface{}) {
	logrus.WithFields(logrus.Fields{
		"key":      key,
		"value":    value,
		"fallback": fallback,
	}).Warn("Invalid setting value, using default")
}
