// Package provider holds the types shared by the paid and optional external
// data providers. Each provider lives in its own subpackage.
package provider

import (
	"errors"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
)

// ErrDisabled is returned by a provider whose credentials are not configured.
// Callers skip the stage; it is never a job failure.
var ErrDisabled = errors.New("provider disabled: credentials not configured")

// Person is a professional-network profile.
type Person struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	FullName    string `json:"full_name"`
	Title       string `json:"title"`
	LinkedInURL string `json:"linkedin_url"`
}

// DisplayName prefers FullName and falls back to "First Last".
func (p Person) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	}
	return p.LastName
}

// FoundEmail is the outcome of a name-to-email lookup. Email is empty when
// the provider could not resolve one.
type FoundEmail struct {
	Email       string
	Score       int
	Title       string
	LinkedInURL string
}

// Verification is a paid verifier's verdict mapped onto our status vocabulary.
type Verification struct {
	Status contact.VerificationStatus
	Score  int
	// Raw is the provider's own status string.
	Raw string
}
