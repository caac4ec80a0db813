package contact

import "strings"

// junkDomains are registrar, hosting and publishing-platform domains whose
// addresses show up in WHOIS records and page footers but never reach a
// decision-maker at the prospect.
var junkDomains = map[string]struct{}{
	"godaddy.com":              {},
	"domainsbyproxy.com":       {},
	"namecheap.com":            {},
	"withheldforprivacy.com":   {},
	"whoisguard.com":           {},
	"privacyguardian.org":      {},
	"contactprivacy.com":       {},
	"networksolutions.com":     {},
	"web.com":                  {},
	"tucows.com":               {},
	"enom.com":                 {},
	"gandi.net":                {},
	"hover.com":                {},
	"name.com":                 {},
	"dynadot.com":              {},
	"porkbun.com":              {},
	"ionos.com":                {},
	"1and1.com":                {},
	"ovh.net":                  {},
	"ovh.com":                  {},
	"markmonitor.com":          {},
	"csc.com":                  {},
	"cscglobal.com":            {},
	"cloudflare.com":           {},
	"bluehost.com":             {},
	"hostgator.com":            {},
	"siteground.com":           {},
	"dreamhost.com":            {},
	"wpengine.com":             {},
	"automattic.com":           {},
	"wordpress.com":            {},
	"wix.com":                  {},
	"wixpress.com":             {},
	"squarespace.com":          {},
	"shopify.com":              {},
	"weebly.com":               {},
	"sentry.io":                {},
	"sentry-next.wixpress.com": {},
	"amazonaws.com":            {},
}

var junkLocalParts = map[string]struct{}{
	"abuse":      {},
	"noreply":    {},
	"no-reply":   {},
	"donotreply": {},
	"hostmaster": {},
	"postmaster": {},
}

// IsJunkDomain reports whether domain (or a parent of it) is a known
// registrar/hosting/platform domain.
func IsJunkDomain(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for domain != "" {
		if _, ok := junkDomains[domain]; ok {
			return true
		}
		i := strings.Index(domain, ".")
		if i < 0 {
			return false
		}
		domain = domain[i+1:]
	}
	return false
}

// IsJunkEmail reports whether an address is never worth contacting.
func IsJunkEmail(email string) bool {
	email = NormalizeEmail(email)
	if email == "" {
		return true
	}
	if _, ok := junkLocalParts[LocalPart(email)]; ok {
		return true
	}
	return IsJunkDomain(DomainOf(email))
}

// FilterJunk returns the candidates whose emails are not junk.
func FilterJunk(in []Candidate) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if IsJunkEmail(c.Email) {
			continue
		}
		out = append(out, c)
	}
	return out
}
