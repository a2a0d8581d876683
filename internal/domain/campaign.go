package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignNew       CampaignStatus = "new"
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
)

// IsTerminal reports whether the status is final. Stopped and completed
// campaigns can never run again; a new campaign must be created.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStopped || s == CampaignCompleted
}

// BrowserKind selects which browser the messenger session runs in.
type BrowserKind string

const (
	BrowserChrome  BrowserKind = "chrome"
	BrowserFirefox BrowserKind = "firefox"
)

// Valid reports whether the kind is one the session manager can launch.
func (k BrowserKind) Valid() bool {
	return k == BrowserChrome || k == BrowserFirefox
}

// TimingMode selects how inter-message delays are derived.
type TimingMode string

const (
	TimingAuto   TimingMode = "auto"   // rule tables (user > plan > global > fallback)
	TimingManual TimingMode = "manual" // explicit min/max supplied at start
)

// DuplicateMode is the campaign's duplicate-prevention policy.
type DuplicateMode string

const (
	DuplicatePerCampaign DuplicateMode = "per_campaign"
	DuplicatePersistent  DuplicateMode = "persistent_per_user"
	DuplicateOff         DuplicateMode = "off"
)

// Campaign represents one unit of outbound work: a message (possibly
// gender-split, possibly with an attachment) to be delivered to a set of
// contacts through the owner's browser session.
type Campaign struct {
	ID          string `json:"id" db:"id"`
	OwnerID     string `json:"owner_id" db:"owner_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	Status CampaignStatus `json:"status" db:"status"`

	// Message bodies. When UseGenderTemplates is set and the contact's
	// gender is known, MaleContent/FemaleContent are preferred over
	// MessageContent.
	MessageContent     string `json:"message_content,omitempty" db:"message_content"`
	MaleContent        string `json:"male_content,omitempty" db:"male_content"`
	FemaleContent      string `json:"female_content,omitempty" db:"female_content"`
	UseGenderTemplates bool   `json:"use_gender_templates" db:"use_gender_templates"`

	DuplicateMode DuplicateMode `json:"duplicate_prevention_mode" db:"duplicate_prevention_mode"`
	AttachmentID  *string       `json:"attachment_id,omitempty" db:"attachment_id"`

	// Counters maintained by the workflow store. Invariant:
	// MessagesSent + MessagesFailed = CurrentProgress <= TotalContacts.
	TotalContacts     int `json:"total_contacts" db:"total_contacts"`
	MessagesSent      int `json:"messages_sent" db:"messages_sent"`
	MessagesDelivered int `json:"messages_delivered" db:"messages_delivered"`
	MessagesFailed    int `json:"messages_failed" db:"messages_failed"`
	CurrentProgress   int `json:"current_progress" db:"current_progress"`

	LastError  string `json:"last_error,omitempty" db:"last_error"`
	ErrorCount int    `json:"error_count" db:"error_count"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	PausedAt    *time.Time `json:"paused_at,omitempty" db:"paused_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty" db:"stopped_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// Remaining is the number of contacts not yet processed.
func (c *Campaign) Remaining() int {
	r := c.TotalContacts - c.CurrentProgress
	if r < 0 {
		return 0
	}
	return r
}

// Body returns the template body for a contact's gender, honoring the
// gender-template flag. Unknown gender always falls back to the default body.
func (c *Campaign) Body(g Gender) string {
	if c.UseGenderTemplates {
		switch g {
		case GenderMale:
			if c.MaleContent != "" {
				return c.MaleContent
			}
		case GenderFemale:
			if c.FemaleContent != "" {
				return c.FemaleContent
			}
		}
	}
	if c.MessageContent != "" {
		return c.MessageContent
	}
	// A gender-split campaign may have no default body at all.
	if c.MaleContent != "" {
		return c.MaleContent
	}
	return c.FemaleContent
}
