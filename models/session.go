package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionExpired    SessionStatus = "expired"
	SessionRevoked    SessionStatus = "revoked"
	SessionSuspicious SessionStatus = "suspicious"
)

// DeviceClass buckets a device by form factor
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceUnknown DeviceClass = "unknown"
)

// DeviceInfo describes the browser/device a session was created from.
// The fingerprint is a hash of browser+OS+language and deliberately excludes
// the IP so a device is still recognized after a network change.
type DeviceInfo struct {
	UserAgent      string      `bson:"user_agent" json:"user_agent"`
	BrowserName    string      `bson:"browser_name" json:"browser_name"`
	BrowserVersion string      `bson:"browser_version" json:"browser_version"`
	OSName         string      `bson:"os_name" json:"os_name"`
	OSVersion      string      `bson:"os_version" json:"os_version"`
	DeviceClass    DeviceClass `bson:"device_class" json:"device_class"`
	Language       string      `bson:"language,omitempty" json:"language,omitempty"`
	Fingerprint    string      `bson:"fingerprint" json:"fingerprint"`
}

// LocationInfo describes where a session was created from
type LocationInfo struct {
	IPAddress string   `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	Country   string   `bson:"country,omitempty" json:"country,omitempty"`
	Region    string   `bson:"region,omitempty" json:"region,omitempty"`
	City      string   `bson:"city,omitempty" json:"city,omitempty"`
	Timezone  string   `bson:"timezone,omitempty" json:"timezone,omitempty"`
	Latitude  *float64 `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude *float64 `bson:"longitude,omitempty" json:"longitude,omitempty"`
}

// Session represents one authenticated device/browser binding.
// The session secret is stored only as a one-way hash; the refresh secret is
// stored deterministically encrypted so it can be looked up by re-encrypting
// an inbound value and matching on ciphertext equality.
type Session struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	UserID string `bson:"user_id" json:"user_id"`

	SecretHash        string `bson:"secret_hash" json:"-"`
	RefreshCiphertext string `bson:"refresh_ciphertext" json:"-"`

	Device   DeviceInfo   `bson:"device" json:"device"`
	Location LocationInfo `bson:"location" json:"location"`

	// Security facet
	IsNewDevice  bool       `bson:"is_new_device" json:"is_new_device"`
	IsSuspicious bool       `bson:"is_suspicious" json:"is_suspicious"`
	RiskScore    int        `bson:"risk_score" json:"risk_score"`
	RiskFactors  []string   `bson:"risk_factors,omitempty" json:"risk_factors,omitempty"`
	StepUpUsed   bool       `bson:"step_up_used" json:"step_up_used"`
	VerifiedAt   *time.Time `bson:"verified_at,omitempty" json:"verified_at,omitempty"`

	// Lifecycle facet
	Status           SessionStatus `bson:"status" json:"status"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	LastActivity     time.Time     `bson:"last_activity" json:"last_activity"`
	ActivityCount    int64         `bson:"activity_count" json:"activity_count"`
	ExpiresAt        time.Time     `bson:"expires_at" json:"expires_at"`
	RefreshExpiresAt time.Time     `bson:"refresh_expires_at" json:"refresh_expires_at"`
}

// SessionSummary is the redacted view returned by the list-sessions surface
type SessionSummary struct {
	ID           string       `json:"id"`
	Device       DeviceInfo   `json:"device"`
	Location     LocationInfo `json:"location"`
	RiskScore    int          `json:"risk_score"`
	IsSuspicious bool         `json:"is_suspicious"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
	IsCurrent    bool         `json:"is_current"`
}
