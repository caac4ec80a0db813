// Package contact holds the candidate/contact data model shared by every stage of
// the discovery pipeline, plus the email and domain normalization helpers those
// stages rely on.
package contact

import (
	"time"
)

// Source identifies which stage produced a candidate.
type Source string

const (
	SourceScraped         Source = "scraped"
	SourceScrapedAuthor   Source = "scraped_author"
	SourceScrapedTeamPage Source = "scraped_team_page"
	SourceDomainSearch    Source = "domain_search"
	SourceNameSearch      Source = "name_search"
	SourceLinkedInSearch  Source = "linkedin_search"
	SourcePattern         Source = "pattern"
	SourceAIExtracted     Source = "ai_extracted"
)

// Tier is the coarse bucket derived from a confidence score.
type Tier string

const (
	TierAPlus Tier = "A+"
	TierA     Tier = "A"
	TierB     Tier = "B"
	TierC     Tier = "C"
	TierD     Tier = "D"
)

// VerificationStatus is the final deliverability verdict for an email.
type VerificationStatus string

const (
	StatusValid   VerificationStatus = "valid"
	StatusInvalid VerificationStatus = "invalid"
	StatusRisky   VerificationStatus = "risky"
	StatusUnknown VerificationStatus = "unknown"
)

// Candidate is a contact discovered by any cascade or orchestrator stage.
//
// Email is always normalized (see NormalizeEmail) before a Candidate leaves the
// stage that built it.
type Candidate struct {
	Email          string         `json:"email"`
	Name           string         `json:"name,omitempty"`
	Title          string         `json:"title,omitempty"`
	LinkedInURL    string         `json:"linkedin_url,omitempty"`
	Source         Source         `json:"source"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
}

// ScoreBreakdown records each scoring component for auditability.
type ScoreBreakdown struct {
	Base        int `json:"base"`
	Title       int `json:"title"`
	Source      int `json:"source"`
	LinkedIn    int `json:"linkedin"`
	RolePenalty int `json:"role_penalty"`
}

// Total is the unclamped sum of all components.
func (b ScoreBreakdown) Total() int {
	return b.Base + b.Title + b.Source + b.LinkedIn + b.RolePenalty
}

// Scored is a Candidate after scoring and (optionally) validation.
type Scored struct {
	Candidate

	ConfidenceScore    int                `json:"confidence_score"`
	Breakdown          ScoreBreakdown     `json:"score_breakdown"`
	Tier               Tier               `json:"tier"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
}

// DomainSearchResult is the cached payload for a whole-domain search.
type DomainSearchResult struct {
	Domain     string      `json:"domain"`
	Contacts   []Candidate `json:"contacts"`
	SearchedAt time.Time   `json:"searched_at"`
}

// EmailVerificationRecord is the cached payload for one email verdict.
type EmailVerificationRecord struct {
	Email      string             `json:"email"`
	Status     VerificationStatus `json:"status"`
	Score      int                `json:"score"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
	VerifiedAt time.Time          `json:"verified_at"`
}

// NameLookupRecord is the cached payload for a name+domain email lookup.
// Found=false records a billed lookup that resolved nothing, so it is not repeated.
type NameLookupRecord struct {
	Domain     string    `json:"domain"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Score      int       `json:"score,omitempty"`
	Found      bool      `json:"found"`
	LookedUpAt time.Time `json:"looked_up_at"`
}

// Merge concatenates candidate lists, deduplicating by email. The first
// occurrence wins; later duplicates only fill fields the winner left empty.
func Merge(lists ...[]Candidate) []Candidate {
	var out []Candidate
	index := make(map[string]int)
	for _, list := range lists {
		for _, c := range list {
			email := NormalizeEmail(c.Email)
			if email == "" {
				continue
			}
			c.Email = email
			i, ok := index[email]
			if !ok {
				index[email] = len(out)
				out = append(out, c)
				continue
			}
			prev := &out[i]
			if prev.Name == "" {
				prev.Name = c.Name
			}
			if prev.Title == "" {
				prev.Title = c.Title
			}
			if prev.LinkedInURL == "" {
				prev.LinkedInURL = c.LinkedInURL
			}
		}
	}
	return out
}
