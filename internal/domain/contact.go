package domain

import (
	"strings"
	"time"
)

// Gender is the contact's gender as imported; U means unknown.
type Gender string

const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
	GenderUnknown Gender = "U"
)

// Contact is a recipient owned by a user. The workflow references contacts
// by id; Status mirrors the last workflow outcome for list views.
type Contact struct {
	ID          string `json:"id" db:"id"`
	OwnerID     string `json:"owner_id" db:"owner_id"`
	FirstName   string `json:"first_name" db:"first_name"`
	ArabicName  string `json:"arabic_name,omitempty" db:"arabic_name"`
	EnglishName string `json:"english_name,omitempty" db:"english_name"`

	// FormattedPhone is digits only (no leading +), as normalized on import.
	FormattedPhone string `json:"formatted_phone" db:"formatted_phone"`

	Gender     Gender `json:"gender" db:"gender"`
	IsSelected bool   `json:"is_selected" db:"is_selected"`
	Status     string `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName is the name used for {name} substitution: the first non-empty
// of FirstName, ArabicName, EnglishName.
func (c *Contact) DisplayName() string {
	if c.FirstName != "" {
		return c.FirstName
	}
	if c.ArabicName != "" {
		return c.ArabicName
	}
	return c.EnglishName
}

// GivenName is the first whitespace-separated token of the display name,
// used for {firstName}.
func (c *Contact) GivenName() string {
	fields := strings.Fields(c.DisplayName())
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
