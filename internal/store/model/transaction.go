package model

import (
	"encoding/json"
	"time"
)

// TransactionRecord is the system-of-record entry a submitted document
// claims to evidence. The comparison stage matches extracted fields
// against this row.
type TransactionRecord struct {
	TransactionID string `gorm:"primaryKey"`
	UserID        string `gorm:"index"`

	Amount          float64
	Currency        string
	MerchantName    string
	TransactionDate time.Time
	PaymentMethod   string
	CardLast4       string

	Metadata *JSONField[map[string]string] `gorm:"type:jsonb"`

	CreatedAt time.Time
}

func (t *TransactionRecord) String() string {
	val, _ := json.Marshal(t)
	return string(val)
}
