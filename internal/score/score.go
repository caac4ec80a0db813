package score

import (
	"sort"
	"strings"
	"unicode"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
)

type Scorer struct {
	policy    Policy
	executive []string
	content   []string
	marketing []string
}

func New(policy Policy) *Scorer {
	return &Scorer{
		policy:    policy,
		executive: normalizeAll(policy.ExecutiveKeywords),
		content:   normalizeAll(policy.ContentKeywords),
		marketing: normalizeAll(policy.MarketingKeywords),
	}
}

func (s *Scorer) Policy() Policy { return s.policy }

// Score computes the clamped confidence score, its breakdown and tier.
func (s *Scorer) Score(c contact.Candidate) contact.Scored {
	b := contact.ScoreBreakdown{
		Base:   s.policy.Base,
		Title:  s.titleBonus(c.Title),
		Source: s.sourceBonus(c.Source),
	}
	if strings.TrimSpace(c.LinkedInURL) != "" {
		b.LinkedIn = s.policy.LinkedInBonus
	}
	if contact.IsGenericRoleLocal(contact.LocalPart(c.Email), s.policy.RoleAliases) {
		b.RolePenalty = s.policy.RolePenalty
	}
	total := clamp(b.Total(), 0, 100)
	return contact.Scored{
		Candidate:       c,
		ConfidenceScore: total,
		Breakdown:       b,
		Tier:            s.Tier(total),
	}
}

func (s *Scorer) ScoreAll(cs []contact.Candidate) []contact.Scored {
	out := make([]contact.Scored, 0, len(cs))
	for _, c := range cs {
		out = append(out, s.Score(c))
	}
	return out
}

func (s *Scorer) Tier(score int) contact.Tier {
	t := s.policy.Tiers
	switch {
	case score >= t.APlus:
		return contact.TierAPlus
	case score >= t.A:
		return contact.TierA
	case score >= t.B:
		return contact.TierB
	case score >= t.C:
		return contact.TierC
	default:
		return contact.TierD
	}
}

// Select picks at most MaxSelected contacts: the best one when it clears the
// threshold, then further ones that clear it and have a local part not
// already selected. When nothing clears the threshold the single best
// candidate is returned, so a non-empty input never yields an empty result.
//
// Ordering is deterministic: score desc, named before unnamed, email asc.
func (s *Scorer) Select(scored []contact.Scored) []contact.Scored {
	if len(scored) == 0 {
		return nil
	}
	sorted := append([]contact.Scored(nil), scored...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ConfidenceScore != b.ConfidenceScore {
			return a.ConfidenceScore > b.ConfidenceScore
		}
		if (a.Name != "") != (b.Name != "") {
			return a.Name != ""
		}
		return a.Email < b.Email
	})

	top := sorted[0]
	if top.ConfidenceScore < s.policy.SelectThreshold {
		return []contact.Scored{top}
	}
	max := s.policy.MaxSelected
	if max < 1 {
		max = 1
	}
	out := []contact.Scored{top}
	locals := map[string]struct{}{contact.LocalPart(top.Email): {}}
	for _, c := range sorted[1:] {
		if len(out) >= max {
			break
		}
		if c.ConfidenceScore < s.policy.SelectThreshold {
			break
		}
		local := contact.LocalPart(c.Email)
		if _, dup := locals[local]; dup {
			continue
		}
		locals[local] = struct{}{}
		out = append(out, c)
	}
	return out
}

// AllowPaidVerification reports whether a selected contact scores high
// enough to be worth a paid verification call.
func (s *Scorer) AllowPaidVerification(c contact.Scored) bool {
	return c.ConfidenceScore >= s.policy.PaidVerifyMinScore
}

func (s *Scorer) titleBonus(title string) int {
	t := normalize(title)
	if t == "" {
		return 0
	}
	switch {
	case matchesAny(t, s.executive):
		return s.policy.ExecutiveBonus
	case matchesAny(t, s.content):
		return s.policy.ContentBonus
	case matchesAny(t, s.marketing):
		return s.policy.MarketingBonus
	default:
		return s.policy.OtherTitleBonus
	}
}

func (s *Scorer) sourceBonus(src contact.Source) int {
	if v, ok := s.policy.SourceBonus[src]; ok {
		return v
	}
	return s.policy.UnclassifiedSourceBonus
}

// normalize lowercases s and collapses every non-alphanumeric run into a
// single space, padded so keywords match on word boundaries.
func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return ""
	}
	return " " + strings.Join(fields, " ") + " "
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if n := normalize(k); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func matchesAny(title string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(title, k) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
