// Package emailcheck implements the free, local email checks: syntax, MX
// existence, and disposable/free/placeholder/no-reply classification.
package emailcheck

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
)

var syntaxRe = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,24}$`)

var disposableDomains = map[string]struct{}{
	"mailinator.com":    {},
	"guerrillamail.com": {},
	"10minutemail.com":  {},
	"tempmail.com":      {},
	"temp-mail.org":     {},
	"throwawaymail.com": {},
	"yopmail.com":       {},
	"trashmail.com":     {},
	"getnada.com":       {},
	"sharklasers.com":   {},
	"dispostable.com":   {},
	"maildrop.cc":       {},
	"fakeinbox.com":     {},
	"mintemail.com":     {},
	"emailondeck.com":   {},
}

var freeProviders = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"yahoo.com":      {},
	"hotmail.com":    {},
	"outlook.com":    {},
	"live.com":       {},
	"msn.com":        {},
	"aol.com":        {},
	"icloud.com":     {},
	"me.com":         {},
	"mail.com":       {},
	"gmx.com":        {},
	"gmx.net":        {},
	"protonmail.com": {},
	"proton.me":      {},
	"yandex.com":     {},
	"zoho.com":       {},
}

var placeholderDomains = map[string]struct{}{
	"example.com":    {},
	"example.org":    {},
	"example.net":    {},
	"test.com":       {},
	"domain.com":     {},
	"email.com":      {},
	"yourdomain.com": {},
	"sentry.io":      {},
}

// Asset filenames like "logo@2x.png" match the syntax regex.
var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// ValidSyntax reports whether email is a syntactically acceptable lowercase address.
func ValidSyntax(email string) bool {
	if len(email) > 254 || strings.Contains(email, "..") {
		return false
	}
	if !syntaxRe.MatchString(email) {
		return false
	}
	for _, s := range assetSuffixes {
		if strings.HasSuffix(email, s) {
			return false
		}
	}
	return len(contact.LocalPart(email)) <= 64
}

func IsDisposableDomain(domain string) bool {
	_, ok := disposableDomains[strings.ToLower(domain)]
	return ok
}

func IsFreeProvider(domain string) bool {
	_, ok := freeProviders[strings.ToLower(domain)]
	return ok
}

func IsPlaceholderDomain(domain string) bool {
	_, ok := placeholderDomains[strings.ToLower(domain)]
	return ok
}

// IsNoReply reports whether the local part is a no-reply mailbox.
func IsNoReply(email string) bool {
	local := contact.LocalPart(strings.ToLower(email))
	return strings.Contains(local, "noreply") || strings.Contains(local, "no-reply") || strings.Contains(local, "donotreply")
}

// Acceptable is the extraction-time filter: the address must be syntactically
// valid, not disposable, not a no-reply mailbox and not on a placeholder domain.
// email must already be normalized.
func Acceptable(email string) bool {
	if !ValidSyntax(email) {
		return false
	}
	domain := contact.DomainOf(email)
	if IsDisposableDomain(domain) || IsPlaceholderDomain(domain) {
		return false
	}
	return !IsNoReply(email)
}

// MXResolver is satisfied by *net.Resolver.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Checker performs MX lookups with an explicit timeout.
type Checker struct {
	resolver MXResolver
	timeout  time.Duration
}

// NewChecker returns a Checker. A nil resolver uses net.DefaultResolver; a
// non-positive timeout defaults to 10s.
func NewChecker(resolver MXResolver, timeout time.Duration) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{resolver: resolver, timeout: timeout}
}

// HasMX reports whether domain publishes at least one usable MX record.
//
// A definitive "no such host"/no-records answer yields (false, nil); a
// temporary resolver failure is returned as an error so callers can tell the two apart.
func (c *Checker) HasMX(ctx context.Context, domain string) (bool, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false, nil
		}
		return false, eris.Wrapf(err, "lookup mx for %s", domain)
	}
	for _, mx := range records {
		// RFC 7505 null MX: "." means the domain accepts no mail.
		if mx != nil && strings.TrimSuffix(mx.Host, ".") != "" {
			return true, nil
		}
	}
	return false, nil
}
