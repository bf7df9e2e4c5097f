package models

import "time"

// DeviceFingerprint is one browser/device installation enrolled for a user.
// At most one record exists per (UserID, Fingerprint) pair.
type DeviceFingerprint struct {
	ID          string
	UserID      string
	Fingerprint string // opaque client-generated identifier
	Label       string
	Approved    bool
	LastIP      string
	UserAgent   string
	LastUsed    time.Time
	CreatedAt   time.Time
}
