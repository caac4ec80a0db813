// Package score ranks candidate contacts and picks the ones worth emailing.
package score

import (
	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
)

// Tiers are lower bounds; anything under C is tier D.
type Tiers struct {
	APlus int `yaml:"a_plus"`
	A     int `yaml:"a"`
	B     int `yaml:"b"`
	C     int `yaml:"c"`
}

// Policy holds every scoring constant. The defaults are heuristics, not
// fitted values, so they are configuration.
type Policy struct {
	Base int `yaml:"base"`

	ExecutiveBonus  int `yaml:"executive_bonus"`
	ContentBonus    int `yaml:"content_bonus"`
	MarketingBonus  int `yaml:"marketing_bonus"`
	OtherTitleBonus int `yaml:"other_title_bonus"`

	SourceBonus             map[contact.Source]int `yaml:"source_bonus"`
	UnclassifiedSourceBonus int                    `yaml:"unclassified_source_bonus"`

	LinkedInBonus int `yaml:"linkedin_bonus"`
	// RolePenalty is added (it is negative) for generic mailboxes.
	RolePenalty int `yaml:"role_penalty"`

	Tiers Tiers `yaml:"tiers"`

	SelectThreshold int `yaml:"select_threshold"`
	MaxSelected     int `yaml:"max_selected"`
	// PaidVerifyMinScore gates paid verification of a selected contact.
	PaidVerifyMinScore int `yaml:"paid_verify_min_score"`

	ExecutiveKeywords []string `yaml:"executive_keywords"`
	ContentKeywords   []string `yaml:"content_keywords"`
	MarketingKeywords []string `yaml:"marketing_keywords"`
	RoleAliases       []string `yaml:"role_aliases"`
}

func DefaultPolicy() Policy {
	return Policy{
		Base:            30,
		ExecutiveBonus:  40,
		ContentBonus:    30,
		MarketingBonus:  20,
		OtherTitleBonus: 10,
		SourceBonus: map[contact.Source]int{
			contact.SourceDomainSearch:    20,
			contact.SourceNameSearch:      20,
			contact.SourceLinkedInSearch:  20,
			contact.SourceScraped:         15,
			contact.SourceScrapedAuthor:   15,
			contact.SourceScrapedTeamPage: 15,
			contact.SourceAIExtracted:     10,
			contact.SourcePattern:         0,
		},
		UnclassifiedSourceBonus: 5,
		LinkedInBonus:           15,
		RolePenalty:             -20,
		Tiers:                   Tiers{APlus: 90, A: 70, B: 50, C: 30},
		SelectThreshold:         50,
		MaxSelected:             2,
		PaidVerifyMinScore:      70,
		ExecutiveKeywords: []string{
			"ceo", "chief executive", "founder", "co founder", "cofounder", "owner", "co owner",
			"president", "managing director", "editor in chief", "editor-in-chief", "principal",
		},
		ContentKeywords: []string{
			"editor", "managing editor", "senior editor", "editorial", "content director", "head of content",
			"content manager", "content lead", "publisher", "author", "writer", "journalist", "contributor",
			"blogger", "columnist",
		},
		MarketingKeywords: []string{
			"marketing", "pr", "public relations", "communications", "partnerships", "partnership",
			"outreach", "seo", "growth", "brand", "media relations", "advertising", "sponsorships",
		},
		RoleAliases: contact.GenericLocalParts(),
	}
}

// maxSelectedLimit is the most contacts a prospect may carry into outreach.
const maxSelectedLimit = 2

// Validate checks that the tier thresholds descend and selection is bounded.
func (p Policy) Validate() error {
	t := p.Tiers
	if !(t.APlus >= t.A && t.A >= t.B && t.B >= t.C) {
		return eris.Errorf("score: tier thresholds must descend, got A+=%d A=%d B=%d C=%d", t.APlus, t.A, t.B, t.C)
	}
	if p.MaxSelected < 1 || p.MaxSelected > maxSelectedLimit {
		return eris.Errorf("score: max_selected must be between 1 and %d, got %d", maxSelectedLimit, p.MaxSelected)
	}
	if p.RolePenalty > 0 {
		return eris.Errorf("score: role_penalty must be <= 0, got %d", p.RolePenalty)
	}
	return nil
}
