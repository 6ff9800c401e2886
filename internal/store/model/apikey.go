package model

import (
	"encoding/json"
	"time"
)

// ApiKey identifies a submitting client. Admission limits are keyed by
// KeyID; Tier selects the window quotas applied to it.
type ApiKey struct {
	KeyID   string `gorm:"primaryKey"`
	Owner   string
	Tier    string
	Enabled bool

	CreatedAt  time.Time
	LastSeenAt *time.Time
}

func (k *ApiKey) String() string {
	val, _ := json.Marshal(k)
	return string(val)
}
