package models

import "time"

// User is the owner of conversations. ExternalID is assigned by the
// identity provider at signup and never changes.
type User struct {
	ID             string
	ExternalID     string
	Name           string
	PinnedModelIDs []string
	CreatedAt      time.Time
}
