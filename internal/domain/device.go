package domain

import (
	"strings"
	"time"
)

// DeviceSample is the latest telemetry reported by a device. The mesh
// aggregator reads the wireless interfaces and their client tables.
type DeviceSample struct {
	DeviceID       string            `json:"device_id"`
	OrganizationID string            `json:"organization_id"`
	MACAddress     string            `json:"mac_address"`
	Name           string            `json:"name,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Interfaces     []DeviceInterface `json:"interfaces"`
}

// DeviceInterface is one reported network interface
type DeviceInterface struct {
	Name     string        `json:"name"`
	MAC      string        `json:"mac"`
	Type     string        `json:"type,omitempty"`
	Wireless *WirelessInfo `json:"wireless,omitempty"`
}

// WirelessInfo describes a wireless interface and its associated clients
type WirelessInfo struct {
	Mode    string `json:"mode"`
	SSID    string `json:"ssid"`
	Channel int    `json:"channel"`
	// Clients are peer stations as reported by the driver, keyed by field name
	Clients []map[string]any `json:"clients,omitempty"`
}

// Validate checks the sample carries enough identity to be stored
func (d *DeviceSample) Validate() error {
	if d.DeviceID == "" {
		return NewValidationError("device sample", "device_id", "required")
	}
	if d.OrganizationID == "" {
		return NewValidationError("device sample", "organization_id", "required")
	}
	if d.MACAddress == "" {
		return NewValidationError("device sample", "mac_address", "required")
	}
	if d.Timestamp.IsZero() {
		return NewValidationError("device sample", "timestamp", "required")
	}
	return nil
}

// NormalizeMAC lower-cases a hardware address so reports from different
// devices compare equal
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}
