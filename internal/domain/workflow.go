package domain

import (
	"time"
)

// EntryStatus enumerates the lifecycle of a single (campaign, contact) slot.
type EntryStatus string

const (
	EntryNew        EntryStatus = "new"
	EntryPending    EntryStatus = "pending"
	EntryProcessing EntryStatus = "processing"
	EntrySent       EntryStatus = "sent"
	EntryDelivered  EntryStatus = "delivered"
	EntryFailed     EntryStatus = "failed"
	EntryBounced    EntryStatus = "bounced"
	EntryOpened     EntryStatus = "opened"
	EntryClicked    EntryStatus = "clicked"
)

// IsTerminal reports whether the entry has reached a final outcome.
// Post-delivery states (delivered, opened, clicked, bounced) are refinements
// of sent and therefore also terminal for the executor.
func (s EntryStatus) IsTerminal() bool {
	switch s {
	case EntrySent, EntryDelivered, EntryFailed, EntryBounced, EntryOpened, EntryClicked:
		return true
	}
	return false
}

// AttachmentKind is the coarse media classification of an attachment.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is a per-entry snapshot of the campaign attachment. The blob is
// copied onto each entry so later edits to the campaign never change what an
// already-queued contact receives.
type Attachment struct {
	Filename    string         `json:"filename" db:"attachment_filename"`
	ContentType string         `json:"content_type" db:"attachment_content_type"`
	Data        string         `json:"data,omitempty" db:"attachment_data"` // base64
	SizeBytes   int64          `json:"size_bytes" db:"attachment_size"`
	Kind        AttachmentKind `json:"kind" db:"attachment_kind"`

	// Populated for images during validation; zero otherwise.
	Width  int `json:"width,omitempty" db:"attachment_width"`
	Height int `json:"height,omitempty" db:"attachment_height"`

	// Non-empty when the blob was offloaded to the media archive; Data is
	// then empty and must be fetched by key.
	ArchiveKey string `json:"archive_key,omitempty" db:"attachment_archive_key"`
}

// WorkflowEntry is one (campaign, contact) slot carrying its own rendered
// payload snapshot and terminal outcome. Entries are unique per
// (campaign_id, contact_id) and processed in AddedAt order.
type WorkflowEntry struct {
	ID         string      `json:"id" db:"id"`
	CampaignID string      `json:"campaign_id" db:"campaign_id"`
	ContactID  string      `json:"contact_id" db:"contact_id"`
	Status     EntryStatus `json:"status" db:"status"`

	AddedAt     time.Time  `json:"added_at" db:"added_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt    *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty" db:"clicked_at"`

	RetryCount   int    `json:"retry_count" db:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// Template snapshot taken when the entry was created. Isolates the
	// entry from later template edits on the campaign.
	MaleMessage   string      `json:"male_message,omitempty" db:"male_message"`
	FemaleMessage string      `json:"female_message,omitempty" db:"female_message"`
	Attachment    *Attachment `json:"attachment,omitempty"`
}

// EntryOutcome is the terminal result the executor records for an entry.
type EntryOutcome string

const (
	OutcomeSent      EntryOutcome = "sent"
	OutcomeDelivered EntryOutcome = "delivered"
	OutcomeFailed    EntryOutcome = "failed"
)
