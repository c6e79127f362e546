package database

import (
	"time"
)

// Device is a terminal known to the bridge
type Device struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Brand      string     `json:"brand"`
	IP         string     `json:"ip"`
	Port       int        `json:"port"`
	CommKey    string     `json:"-"` // Encrypted at rest
	Status     string     `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DeviceStatus constants
const (
	DeviceStatusUnknown = "unknown"
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
	DeviceStatusError   = "error"
)

// PunchFilter narrows punch queries; zero values match everything
type PunchFilter struct {
	DeviceID     string
	EmployeeCode int
	Since        time.Time
	Until        time.Time
	Limit        int
}
