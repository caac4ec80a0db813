package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/outreach-contact-pipeline/internal/cache"
	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
)

func TestContactCache_DomainResultFiltersJunk(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c := cache.NewContactCache(store, cache.WithPrefix("t:"))

	require.NoError(t, c.SetDomainResult(ctx, contact.DomainSearchResult{
		Domain: "https://www.Acme.com",
		Contacts: []contact.Candidate{
			{Email: "abuse@acme.com", Source: contact.SourceDomainSearch},
			{Email: "jane@acme.com", Name: "Jane", Source: contact.SourceDomainSearch},
		},
	}))

	got, ok, err := c.GetDomainResult(ctx, "acme.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Contacts, 1)
	assert.Equal(t, "jane@acme.com", got.Contacts[0].Email)
	assert.Equal(t, "acme.com", got.Domain)
	assert.False(t, got.SearchedAt.IsZero())
}

func TestContactCache_AllJunkEntryIsInvalidated(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c := cache.NewContactCache(store, cache.WithPrefix("t:"))

	// Written directly to simulate an entry cached before the junk rules existed.
	raw := []byte(`{"domain":"acme.com","contacts":[{"email":"support@godaddy.com","source":"scraped"},{"email":"noreply@acme.com","source":"scraped"}]}`)
	require.NoError(t, store.SetWithTTL(ctx, "t:domain_search:acme.com", raw, time.Hour))

	_, ok, err := c.GetDomainResult(ctx, "acme.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, present, err := store.Get(ctx, "t:domain_search:acme.com")
	require.NoError(t, err)
	assert.False(t, present, "all-junk entry must be deleted on read")
}

func TestContactCache_DeleteDomainResult(t *testing.T) {
	ctx := context.Background()
	c := cache.NewContactCache(cache.NewMemoryStore(), cache.WithPrefix("t:"))
	require.NoError(t, c.SetDomainResult(ctx, contact.DomainSearchResult{
		Domain:   "acme.com",
		Contacts: []contact.Candidate{{Email: "jane@acme.com", Source: contact.SourceDomainSearch}},
	}))

	require.NoError(t, c.DeleteDomainResult(ctx, "www.acme.com"))
	_, ok, err := c.GetDomainResult(ctx, "acme.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContactCache_AllJunkWriteIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c := cache.NewContactCache(store, cache.WithPrefix("t:"))

	require.NoError(t, c.SetDomainResult(ctx, contact.DomainSearchResult{
		Domain:   "acme.com",
		Contacts: []contact.Candidate{{Email: "abuse@acme.com"}},
	}))
	keys, err := store.ScanKeys(ctx, "t:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestContactCache_CorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c := cache.NewContactCache(store, cache.WithPrefix("t:"))
	require.NoError(t, store.SetWithTTL(ctx, "t:email_verify:jane@acme.com", []byte("{not json"), time.Hour))

	_, ok, err := c.GetVerification(ctx, "jane@acme.com")
	require.NoError(t, err)
	assert.False(t, ok)
	_, present, _ := store.Get(ctx, "t:email_verify:jane@acme.com")
	assert.False(t, present)
}

func TestContactCache_VerificationAndNameLookup(t *testing.T) {
	ctx := context.Background()
	c := cache.NewContactCache(cache.NewMemoryStore())

	require.NoError(t, c.SetVerification(ctx, contact.EmailVerificationRecord{
		Email:  "Jane@Acme.com",
		Status: contact.StatusValid,
		Score:  95,
	}))
	rec, ok, err := c.GetVerification(ctx, "jane@acme.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, contact.StatusValid, rec.Status)
	assert.Equal(t, 95, rec.Score)

	require.NoError(t, c.SetNameLookup(ctx, contact.NameLookupRecord{Domain: "acme.com", Name: "Jane  Doe", Found: false}))
	nl, ok, err := c.GetNameLookup(ctx, "www.acme.com", "jane doe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, nl.Found)

	assert.Error(t, c.SetVerification(ctx, contact.EmailVerificationRecord{}))
	assert.Error(t, c.SetNameLookup(ctx, contact.NameLookupRecord{Domain: "acme.com"}))
}

func TestContactCache_PurgeJunk(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c := cache.NewContactCache(store, cache.WithPrefix("t:"))

	require.NoError(t, c.SetDomainResult(ctx, contact.DomainSearchResult{
		Domain:   "good.com",
		Contacts: []contact.Candidate{{Email: "jane@good.com"}},
	}))
	require.NoError(t, store.SetWithTTL(ctx, "t:domain_search:bad.com", []byte(`{"domain":"bad.com","contacts":[{"email":"abuse@bad.com"}]}`), time.Hour))
	require.NoError(t, store.SetWithTTL(ctx, "t:domain_search:broken.com", []byte(`nope`), time.Hour))

	n, err := c.PurgeJunk(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := store.ScanKeys(ctx, "t:domain_search:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"t:domain_search:good.com"}, keys)
}
