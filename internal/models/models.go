package models

import (
	"strings"
	"time"
)

// Era classifies a media item as an artifact of the past or the present.
// Links may only join media of opposite eras, and the present-media draw
// considers present-era items only.
type Era string

const (
	EraPast    Era = "past"
	EraPresent Era = "present"
)

// ParseEra normalizes a raw era value, falling back to EraPast for empty
// input. The boolean reports whether the value was recognised.
func ParseEra(value string) (Era, bool) {
	switch Era(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return EraPast, true
	case EraPast:
		return EraPast, true
	case EraPresent:
		return EraPresent, true
	default:
		return "", false
	}
}

// Locket marks how a media item is pinned inside a keepsake locket.
type Locket string

const (
	LocketNone Locket = "none"
	LocketTemp Locket = "temp"
	LocketPerm Locket = "perm"
)

// ParseLocket normalizes a raw locket value, falling back to LocketNone for
// empty input. The boolean reports whether the value was recognised.
func ParseLocket(value string) (Locket, bool) {
	switch Locket(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return LocketNone, true
	case LocketNone:
		return LocketNone, true
	case LocketTemp:
		return LocketTemp, true
	case LocketPerm:
		return LocketPerm, true
	default:
		return "", false
	}
}

// Entity is the contract every stored resource satisfies so the generic
// resource layer can identify, owner-scope, and field-match records without
// knowing their concrete type. EntityOwner returns "" for unowned resources.
// Field projects a named public field to its string form; the boolean reports
// whether the field exists and is matchable.
type Entity interface {
	EntityID() string
	EntityOwner() string
	Field(name string) (string, bool)
}

type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EntityOwner returns the user's own id: a user record belongs to itself, so
// the generic owner-scoping collapses to "only the caller's own account".
func (u User) EntityID() string    { return u.ID }
func (u User) EntityOwner() string { return u.ID }

func (u User) Field(name string) (string, bool) {
	switch name {
	case "displayName":
		return u.DisplayName, true
	case "email":
		return u.Email, true
	default:
		return "", false
	}
}

// Device is a push-notification endpoint registered by a user. It is a plain
// owned resource served entirely by the generic CRUD path.
type Device struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Platform  string    `json:"platform,omitempty"`
	PushToken string    `json:"pushToken,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (d Device) EntityID() string    { return d.ID }
func (d Device) EntityOwner() string { return d.OwnerID }

func (d Device) Field(name string) (string, bool) {
	switch name {
	case "name":
		return d.Name, true
	case "platform":
		return d.Platform, true
	case "pushToken":
		return d.PushToken, true
	default:
		return "", false
	}
}

// Media is an uploaded binary plus its keepsake metadata. Path is an opaque
// blob handle resolved by the blob store; Links holds the ids of opposite-era
// media this item points at (directed, recorded on the source side only).
type Media struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Path        string    `json:"path"`
	ContentType string    `json:"contentType,omitempty"`
	Era         Era       `json:"era"`
	Locket      Locket    `json:"locket"`
	Links       []string  `json:"links"`
	Emotions    []string  `json:"emotions,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (m Media) EntityID() string    { return m.ID }
func (m Media) EntityOwner() string { return m.OwnerID }

func (m Media) Field(name string) (string, bool) {
	switch name {
	case "era":
		return string(m.Era), true
	case "locket":
		return string(m.Locket), true
	case "contentType":
		return m.ContentType, true
	case "emotions":
		return strings.Join(m.Emotions, ","), true
	default:
		return "", false
	}
}

// HasLink reports whether the media already references the target id.
func (m Media) HasLink(targetID string) bool {
	for _, id := range m.Links {
		if id == targetID {
			return true
		}
	}
	return false
}

// ViewEvent records that a user was shown a present-era media item. Events
// are append-only; nothing in the system updates or deletes them.
type ViewEvent struct {
	ID        string    `json:"id"`
	MediaID   string    `json:"mediaId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
