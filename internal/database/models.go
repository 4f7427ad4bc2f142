// internal/database/models.go
package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Flag is a device boolean. AxeOS reports some flags as JSON booleans and
// others as 0/1 numbers, so both are accepted.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch strings.ToLower(raw) {
	case "true", "1":
		*f = true
	case "false", "0", "":
		*f = false
	default:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid flag value %s", data)
		}
		*f = n != 0
	}
	return nil
}

// Sample is one telemetry reading. Device fields are pointers so that a
// field missing from the payload stays null instead of becoming zero.
type Sample struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// Device identifies the reporting miner; see DeviceKey.
	Device string `json:"device"`

	Power             *float64 `json:"power"`
	Voltage           *float64 `json:"voltage"`
	Current           *float64 `json:"current"`
	CoreVoltage       *float64 `json:"coreVoltage"`
	CoreVoltageActual *float64 `json:"coreVoltageActual"`
	Temp              *float64 `json:"temp"`
	VRTemp            *float64 `json:"vrTemp"`

	HashRate        *float64 `json:"hashRate"`
	BestDiff        *string  `json:"bestDiff"`
	BestSessionDiff *string  `json:"bestSessionDiff"`
	StratumDiff     *float64 `json:"stratumDiff"`
	SharesAccepted  *int64   `json:"sharesAccepted"`
	SharesRejected  *int64   `json:"sharesRejected"`
	UptimeSeconds   *int64   `json:"uptimeSeconds"`

	Frequency *float64 `json:"frequency"`
	FreeHeap  *int64   `json:"freeHeap"`
	FanSpeed  *float64 `json:"fanspeed"`
	FanRPM    *int64   `json:"fanrpm"`

	Hostname            *string `json:"hostname"`
	MACAddr             *string `json:"macAddr"`
	SSID                *string `json:"ssid"`
	WifiStatus          *string `json:"wifiStatus"`
	StratumURL          *string `json:"stratumURL"`
	StratumPort         *int64  `json:"stratumPort"`
	StratumUser         *string `json:"stratumUser"`
	FallbackStratumURL  *string `json:"fallbackStratumURL"`
	FallbackStratumPort *int64  `json:"fallbackStratumPort"`
	FallbackStratumUser *string `json:"fallbackStratumUser"`

	ASICModel        *string `json:"ASICModel"`
	ASICCount        *int64  `json:"asicCount"`
	SmallCoreCount   *int64  `json:"smallCoreCount"`
	Version          *string `json:"version"`
	IDFVersion       *string `json:"idfVersion"`
	BoardVersion     *string `json:"boardVersion"`
	RunningPartition *string `json:"runningPartition"`

	IsUsingFallbackStratum *Flag `json:"isUsingFallbackStratum"`
	OverheatMode           *Flag `json:"overheat_mode"`
	FlipScreen             *Flag `json:"flipscreen"`
	InvertScreen           *Flag `json:"invertscreen"`
	InvertFanPolarity      *Flag `json:"invertfanpolarity"`
	AutoFanSpeed           *Flag `json:"autofanspeed"`
}

// DefaultDevice names samples from a device that sent no identifier.
const DefaultDevice = "default"

// DeviceKey derives the device a pushed sample belongs to: MAC address, then
// hostname, then DefaultDevice.
func DeviceKey(s *Sample) string {
	if s.MACAddr != nil && strings.TrimSpace(*s.MACAddr) != "" {
		return strings.ToLower(strings.TrimSpace(*s.MACAddr))
	}
	if s.Hostname != nil && strings.TrimSpace(*s.Hostname) != "" {
		return strings.TrimSpace(*s.Hostname)
	}
	return DefaultDevice
}

// DeviceName returns Device, treating samples stored without one as the
// default device.
func (s *Sample) DeviceName() string {
	if s.Device == "" {
		return DefaultDevice
	}
	return s.Device
}

// Efficiency returns J/TH, or 0 when power or hash rate is missing.
func (s *Sample) Efficiency() float64 {
	if s.Power == nil || s.HashRate == nil || *s.HashRate <= 0 {
		return 0
	}
	return *s.Power / (*s.HashRate / 1000)
}

// RejectRate returns rejected / (accepted + rejected) as a fraction.
func (s *Sample) RejectRate() float64 {
	if s.SharesAccepted == nil || s.SharesRejected == nil {
		return 0
	}
	total := *s.SharesAccepted + *s.SharesRejected
	if total <= 0 {
		return 0
	}
	return float64(*s.SharesRejected) / float64(total)
}

// HasAlertFields reports whether the sample carries the fields required for
// alert evaluation.
func (s *Sample) HasAlertFields() bool {
	return s.Power != nil && s.Temp != nil && s.HashRate != nil
}

// UsingFallback reports the fallback stratum flag; absent counts as false.
func (s *Sample) UsingFallback() bool {
	return s.IsUsingFallbackStratum != nil && bool(*s.IsUsingFallbackStratum)
}

// MarshalJSON adds the derived efficiency and reject rate to the stored fields.
func (s Sample) MarshalJSON() ([]byte, error) {
	type plain Sample
	return json.Marshal(struct {
		plain
		Efficiency float64 `json:"efficiency"`
		RejectRate float64 `json:"rejectRate"`
	}{plain(s), s.Efficiency(), s.RejectRate()})
}

type AlertType string

const (
	AlertHighTemp        AlertType = "high_temp"
	AlertCriticalTemp    AlertType = "critical_temp"
	AlertHighVRTemp      AlertType = "high_vr_temp"
	AlertHighPower       AlertType = "high_power"
	AlertLowHashRate     AlertType = "low_hash_rate"
	AlertHighHashRate    AlertType = "high_hash_rate"
	AlertHighRejectRate  AlertType = "high_reject_rate"
	AlertHashRateDrop    AlertType = "hash_rate_drop"
	AlertFallbackStratum AlertType = "fallback_stratum"
	AlertStratumRecovery AlertType = "stratum_recovery"
	AlertNewBestDiff     AlertType = "new_best_diff"
	AlertNewSessionBest  AlertType = "new_session_best"
	AlertMinerOffline    AlertType = "miner_offline"
	AlertNoData          AlertType = "no_data"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AlertEvent is one raised alert. Every firing is stored; Notified records
// whether it was also pushed to the notification sink.
type AlertEvent struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Type       AlertType  `json:"alert_type"`
	Device     string     `json:"device,omitempty"`
	Message    string     `json:"message"`
	Value      *float64   `json:"value"`
	Threshold  *float64   `json:"threshold"`
	Severity   Severity   `json:"severity"`
	Notified   bool       `json:"notified"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SampleStats aggregates a window of samples.
type SampleStats struct {
	Since         time.Time `json:"since"`
	Count         int       `json:"count"`
	HashRateAvg   float64   `json:"hash_rate_avg"`
	HashRateMin   float64   `json:"hash_rate_min"`
	HashRateMax   float64   `json:"hash_rate_max"`
	TempAvg       float64   `json:"temp_avg"`
	TempMin       float64   `json:"temp_min"`
	TempMax       float64   `json:"temp_max"`
	PowerAvg      float64   `json:"power_avg"`
	PowerMin      float64   `json:"power_min"`
	PowerMax      float64   `json:"power_max"`
	EfficiencyAvg float64   `json:"efficiency_avg"`
	UptimeHours   float64   `json:"uptime_hours"`
}

// DatabaseStats provides information about database size and health
type DatabaseStats struct {
	TotalSamples  int       `json:"total_samples"`
	TotalAlerts   int       `json:"total_alerts"`
	TotalSettings int       `json:"total_settings"`
	DatabaseSize  int64     `json:"database_size_bytes"`
	OldestSample  time.Time `json:"oldest_sample"`
	NewestSample  time.Time `json:"newest_sample"`
}
