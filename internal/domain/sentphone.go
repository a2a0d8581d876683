package domain

import (
	"time"
)

// SentPhoneRecord is the duplicate guard's durable memory: one row per
// (owner, phone) that has ever been sent to. Unique on that pair.
type SentPhoneRecord struct {
	ID             string    `json:"id" db:"id"`
	OwnerID        string    `json:"owner_id" db:"owner_id"`
	Phone          string    `json:"phone" db:"phone"`
	FirstSentAt    time.Time `json:"first_sent_at" db:"first_sent_at"`
	LastSentAt     time.Time `json:"last_sent_at" db:"last_sent_at"`
	SendCount      int       `json:"send_count" db:"send_count"`
	LastCampaignID *string   `json:"last_campaign_id,omitempty" db:"last_campaign_id"`
	LastStatus     string    `json:"last_status" db:"last_status"`
}
