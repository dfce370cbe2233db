package models

import "time"

// Ledger directions. Inbound entries record deduplicated ingestion,
// outbound entries record notifications the backend has emitted.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Liveness statuses shared by stores and cameras.
const (
	StatusOnline   = "online"
	StatusDegraded = "degraded"
	StatusOffline  = "offline"
	StatusUnknown  = "unknown"
)

type Store struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	ExternalID string     `json:"external_id"`
	Name       string     `json:"name"`
	Active     bool       `json:"active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Camera struct {
	ID         string     `json:"id"`
	StoreID    string     `json:"store_id"`
	ExternalID string     `json:"external_id"`
	Name       string     `json:"name"`
	Active     bool       `json:"active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LedgerEntry is one row of the dedup ledger. ReceiptID is the primary
// key; inserting a duplicate is a no-op and the caller learns nothing
// happened.
type LedgerEntry struct {
	ReceiptID     string    `json:"receipt_id"`
	Direction     string    `json:"direction"`
	EventName     string    `json:"event_name"`
	EventVersion  int       `json:"event_version"`
	TS            time.Time `json:"ts"`
	Source        string    `json:"source"`
	OrgID         string    `json:"org_id,omitempty"`
	StoreID       string    `json:"store_id,omitempty"`
	CameraID      string    `json:"camera_id,omitempty"`
	CooldownScope string    `json:"cooldown_scope,omitempty"`
	CurrentStatus string    `json:"current_status,omitempty"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}

type HealthLogEntry struct {
	ID       int64     `json:"id"`
	CameraID string    `json:"camera_id"`
	SeenAt   time.Time `json:"seen_at"`
	Error    string    `json:"error,omitempty"`
}
