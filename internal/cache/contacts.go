package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/metrics"
)

const (
	kindDomainSearch = "domain_search"
	kindEmailVerify  = "email_verify"
	kindNameLookup   = "name_lookup"
)

// ContactCache stores typed pipeline payloads on top of a Store.
//
// Domain search results are junk-aware on read: junk contacts are filtered
// out, and an entry whose contacts are all junk is deleted and reported as a miss.
type ContactCache struct {
	store  Store
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

type Option func(*ContactCache)

func WithPrefix(prefix string) Option {
	return func(c *ContactCache) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *ContactCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *ContactCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewContactCache(store Store, opts ...Option) *ContactCache {
	c := &ContactCache{
		store:  store,
		prefix: "contactfinder:",
		ttl:    DefaultTTL,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *ContactCache) domainKey(domain string) string {
	return c.prefix + kindDomainSearch + ":" + contact.NormalizeDomain(domain)
}

func (c *ContactCache) verifyKey(email string) string {
	return c.prefix + kindEmailVerify + ":" + contact.NormalizeEmail(email)
}

func (c *ContactCache) nameKey(domain, name string) string {
	n := strings.Join(strings.Fields(strings.ToLower(name)), "_")
	return c.prefix + kindNameLookup + ":" + contact.NormalizeDomain(domain) + ":" + n
}

// GetDomainResult returns the cached clean contacts for domain.
func (c *ContactCache) GetDomainResult(ctx context.Context, domain string) (contact.DomainSearchResult, bool, error) {
	key := c.domainKey(domain)
	var res contact.DomainSearchResult
	ok, err := c.getJSON(ctx, key, &res)
	if err != nil || !ok {
		metrics.CacheLookups.WithLabelValues(kindDomainSearch, "miss").Inc()
		return contact.DomainSearchResult{}, false, err
	}

	clean := contact.FilterJunk(res.Contacts)
	if len(clean) == 0 {
		metrics.CacheLookups.WithLabelValues(kindDomainSearch, "junk").Inc()
		c.logger.Info("cache: invalidating all-junk domain result",
			zap.String("domain", res.Domain),
			zap.Int("cached_contacts", len(res.Contacts)),
		)
		if err := c.store.Delete(ctx, key); err != nil {
			return contact.DomainSearchResult{}, false, err
		}
		return contact.DomainSearchResult{}, false, nil
	}
	metrics.CacheLookups.WithLabelValues(kindDomainSearch, "hit").Inc()
	res.Contacts = clean
	return res, true, nil
}

// SetDomainResult writes res with junk removed. Empty or all-junk results are not written.
func (c *ContactCache) SetDomainResult(ctx context.Context, res contact.DomainSearchResult) error {
	clean := contact.FilterJunk(res.Contacts)
	if len(clean) == 0 {
		return nil
	}
	res.Domain = contact.NormalizeDomain(res.Domain)
	res.Contacts = clean
	if res.SearchedAt.IsZero() {
		res.SearchedAt = time.Now().UTC()
	}
	return c.setJSON(ctx, c.domainKey(res.Domain), res)
}

// DeleteDomainResult drops the cached result for domain.
func (c *ContactCache) DeleteDomainResult(ctx context.Context, domain string) error {
	return c.store.Delete(ctx, c.domainKey(domain))
}

func (c *ContactCache) GetVerification(ctx context.Context, email string) (contact.EmailVerificationRecord, bool, error) {
	var rec contact.EmailVerificationRecord
	ok, err := c.getJSON(ctx, c.verifyKey(email), &rec)
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues(kindEmailVerify, result).Inc()
	return rec, ok, err
}

func (c *ContactCache) SetVerification(ctx context.Context, rec contact.EmailVerificationRecord) error {
	rec.Email = contact.NormalizeEmail(rec.Email)
	if rec.Email == "" {
		return eris.New("verification record has no email")
	}
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = time.Now().UTC()
	}
	return c.setJSON(ctx, c.verifyKey(rec.Email), rec)
}

func (c *ContactCache) GetNameLookup(ctx context.Context, domain, name string) (contact.NameLookupRecord, bool, error) {
	var rec contact.NameLookupRecord
	ok, err := c.getJSON(ctx, c.nameKey(domain, name), &rec)
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues(kindNameLookup, result).Inc()
	return rec, ok, err
}

func (c *ContactCache) SetNameLookup(ctx context.Context, rec contact.NameLookupRecord) error {
	if strings.TrimSpace(rec.Name) == "" {
		return eris.New("name lookup record has no name")
	}
	if rec.LookedUpAt.IsZero() {
		rec.LookedUpAt = time.Now().UTC()
	}
	rec.Email = contact.NormalizeEmail(rec.Email)
	return c.setJSON(ctx, c.nameKey(rec.Domain, rec.Name), rec)
}

// PurgeJunk deletes every domain result whose contacts are all junk or whose
// payload no longer decodes. It returns the number of keys removed.
func (c *ContactCache) PurgeJunk(ctx context.Context) (int, error) {
	keys, err := c.store.ScanKeys(ctx, c.prefix+kindDomainSearch+":*")
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, key := range keys {
		b, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		var res contact.DomainSearchResult
		if err := json.Unmarshal(b, &res); err != nil || len(contact.FilterJunk(res.Contacts)) == 0 {
			doomed = append(doomed, key)
		}
	}
	if err := c.store.Delete(ctx, doomed...); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

func (c *ContactCache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		// Undecodable payloads are treated as absent and removed.
		c.logger.Warn("cache: dropping undecodable entry", zap.String("key", key), zap.Error(err))
		return false, c.store.Delete(ctx, key)
	}
	return true, nil
}

func (c *ContactCache) setJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "encode cache payload for %s", key)
	}
	return c.store.SetWithTTL(ctx, key, b, c.ttl)
}
