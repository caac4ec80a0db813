package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/outreach-contact-pipeline/internal/cache"
	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/orchestrator"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
	"github.com/shpitdev/outreach-contact-pipeline/internal/score"
	"github.com/shpitdev/outreach-contact-pipeline/internal/validate"
)

type fakeMX struct{ has bool }

func (f fakeMX) HasMX(context.Context, string) (bool, error) { return f.has, nil }

type fakeVerifier struct{ calls int }

func (f *fakeVerifier) Verify(context.Context, string) (provider.Verification, error) {
	f.calls++
	return provider.Verification{Status: contact.StatusValid, Score: 95, Raw: "valid"}, nil
}

type fakeDomainSearch struct {
	cands   []contact.Candidate
	err     error
	enabled bool
	calls   int
}

func (f *fakeDomainSearch) Enabled() bool { return f.enabled }

func (f *fakeDomainSearch) DomainSearch(context.Context, string) ([]contact.Candidate, error) {
	f.calls++
	return f.cands, f.err
}

type fakeFinder struct {
	byName map[string]provider.FoundEmail
	calls  []string
}

func (f *fakeFinder) FindEmail(_ context.Context, _ string, name string) (provider.FoundEmail, error) {
	f.calls = append(f.calls, name)
	return f.byName[name], nil
}

type fakePeople struct {
	people []provider.Person
	calls  int
}

func (f *fakePeople) SearchPeople(context.Context, string, int) ([]provider.Person, error) {
	f.calls++
	return f.people, nil
}

type fakeExtractor struct {
	cands []contact.Candidate
	calls int
}

func (f *fakeExtractor) ExtractContacts(context.Context, string, string) ([]contact.Candidate, error) {
	f.calls++
	return f.cands, nil
}

func newValidator(hasMX bool, opts ...validate.Option) *validate.Validator {
	return validate.New(fakeMX{has: hasMX}, opts...)
}

func newOrchestrator(v orchestrator.Validator, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	return orchestrator.New(score.New(score.DefaultPolicy()), v, opts...)
}

func TestFindContacts_ScrapedSeedSkipsPaidStages(t *testing.T) {
	ds := &fakeDomainSearch{enabled: true}
	o := newOrchestrator(newValidator(true), orchestrator.WithDomainSearcher(ds))

	res, err := o.FindContacts(context.Background(), orchestrator.Request{
		Domain: "https://www.acme.com/post",
		Scraped: []contact.Candidate{
			{Email: "editor@acme.com", Name: "Eddie Tor", Title: "Editor", Source: contact.SourceScraped},
			{Email: "abuse@godaddy.com", Source: contact.SourceScraped},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, ds.calls)
	assert.Equal(t, 0, res.TotalCostCents)
	assert.Equal(t, []string{orchestrator.StageScraping}, res.SourcesUsed)
	assert.False(t, res.Cached)
	require.Len(t, res.Contacts, 1)
	assert.Equal(t, "editor@acme.com", res.Contacts[0].Email)
	assert.Equal(t, 75, res.Contacts[0].ConfidenceScore)
	assert.Equal(t, contact.StatusUnknown, res.Contacts[0].VerificationStatus)
}

func TestFindContacts_CacheHitIsFree(t *testing.T) {
	ctx := context.Background()
	c := cache.NewContactCache(cache.NewMemoryStore())
	require.NoError(t, c.SetDomainResult(ctx, contact.DomainSearchResult{
		Domain:   "acme.com",
		Contacts: []contact.Candidate{{Email: "jane.doe@acme.com", Name: "Jane Doe", Title: "CEO", Source: contact.SourceDomainSearch}},
	}))
	ds := &fakeDomainSearch{enabled: true}
	ver := &fakeVerifier{}
	o := newOrchestrator(newValidator(true, validate.WithVerifier(ver, 1)),
		orchestrator.WithCache(c), orchestrator.WithDomainSearcher(ds))

	res, err := o.FindContacts(ctx, orchestrator.Request{Domain: "acme.com"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 0, res.TotalCostCents)
	assert.Equal(t, []string{orchestrator.StageCache}, res.SourcesUsed)
	assert.Equal(t, 0, ds.calls)
	assert.Equal(t, 0, ver.calls, "cached results are never paid-verified")
	require.Len(t, res.Contacts, 1)
	assert.Equal(t, "jane.doe@acme.com", res.Contacts[0].Email)
}

func TestFindContacts_AllJunkCacheForcesLiveSearch(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c := cache.NewContactCache(store)
	junk := `{"domain":"acme.com","contacts":[{"email":"abuse@godaddy.com","source":"scraped"}],"searched_at":"2025-01-01T00:00:00Z"}`
	require.NoError(t, store.SetWithTTL(ctx, "contactfinder:domain_search:acme.com", []byte(junk), time.Hour))

	ds := &fakeDomainSearch{enabled: true, cands: []contact.Candidate{
		{Email: "jane.doe@acme.com", Name: "Jane Doe", Title: "Managing Editor", Source: contact.SourceDomainSearch},
	}}
	o := newOrchestrator(newValidator(true), orchestrator.WithCache(c), orchestrator.WithDomainSearcher(ds))

	res, err := o.FindContacts(ctx, orchestrator.Request{Domain: "acme.com"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, ds.calls)
	assert.Equal(t, 5, res.TotalCostCents)
	assert.Equal(t, []string{orchestrator.StageDomainSearch}, res.SourcesUsed)

	cached, ok, err := c.GetDomainResult(ctx, "acme.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached.Contacts, 1)
	assert.Equal(t, "jane.doe@acme.com", cached.Contacts[0].Email)
}

func TestFindContacts_UnacceptableCacheEntryIsDeleted(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c := cache.NewContactCache(store)
	key := "contactfinder:domain_search:acme.com"
	disposable := `{"domain":"acme.com","contacts":[{"email":"jane.doe@mailinator.com","source":"domain_search"}],"searched_at":"2025-01-01T00:00:00Z"}`
	require.NoError(t, store.SetWithTTL(ctx, key, []byte(disposable), time.Hour))

	ds := &fakeDomainSearch{enabled: true}
	o := newOrchestrator(newValidator(true), orchestrator.WithCache(c), orchestrator.WithDomainSearcher(ds))

	res, err := o.FindContacts(ctx, orchestrator.Request{Domain: "acme.com"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Empty(t, res.Contacts)
	assert.Equal(t, 1, ds.calls)

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "unusable cached result must be removed")
}

func TestFindContacts_PaidVerificationGatedOnScore(t *testing.T) {
	ds := &fakeDomainSearch{enabled: true, cands: []contact.Candidate{
		{Email: "ceo@acme.com", Title: "CEO", Source: contact.SourceDomainSearch},
		{Email: "jane@acme.com", Source: contact.SourceDomainSearch},
	}}
	ver := &fakeVerifier{}
	o := newOrchestrator(newValidator(true, validate.WithVerifier(ver, 1)), orchestrator.WithDomainSearcher(ds))

	res, err := o.FindContacts(context.Background(), orchestrator.Request{Domain: "acme.com"})
	require.NoError(t, err)
	require.Len(t, res.Contacts, 2)
	assert.Equal(t, "ceo@acme.com", res.Contacts[0].Email)
	assert.Equal(t, contact.StatusValid, res.Contacts[0].VerificationStatus)
	assert.Equal(t, "jane@acme.com", res.Contacts[1].Email)
	assert.Equal(t, contact.StatusUnknown, res.Contacts[1].VerificationStatus)

	assert.Equal(t, 1, ver.calls)
	assert.Equal(t, 6, res.TotalCostCents)
}

func TestFindContacts_InvalidContactsDropped(t *testing.T) {
	ctx := context.Background()
	c := cache.NewContactCache(cache.NewMemoryStore())
	ds := &fakeDomainSearch{enabled: true, cands: []contact.Candidate{{Email: "jane@acme.com", Source: contact.SourceDomainSearch}}}
	o := newOrchestrator(newValidator(false), orchestrator.WithCache(c), orchestrator.WithDomainSearcher(ds))

	res, err := o.FindContacts(ctx, orchestrator.Request{Domain: "acme.com"})
	require.NoError(t, err)
	assert.Empty(t, res.Contacts)

	_, ok, err := c.GetDomainResult(ctx, "acme.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindContacts_AuthorNameLookupIsCached(t *testing.T) {
	ctx := context.Background()
	c := cache.NewContactCache(cache.NewMemoryStore())
	finder := &fakeFinder{byName: map[string]provider.FoundEmail{
		"Jane Doe": {Email: "jane.doe@acme.com", Score: 91, Title: "Senior Editor"},
	}}
	o := newOrchestrator(newValidator(true), orchestrator.WithCache(c), orchestrator.WithEmailFinder(finder))

	res, err := o.FindContacts(ctx, orchestrator.Request{Domain: "acme.com", AuthorName: "  Jane   Doe "})
	require.NoError(t, err)
	require.Len(t, res.Contacts, 1)
	got := res.Contacts[0]
	assert.Equal(t, "jane.doe@acme.com", got.Email)
	assert.Equal(t, contact.SourceNameSearch, got.Source)
	assert.Equal(t, "Jane Doe", got.Name)
	assert.Equal(t, 2, res.TotalCostCents)
	assert.Equal(t, []string{orchestrator.StageNameSearch}, res.SourcesUsed)

	rec, ok, err := c.GetNameLookup(ctx, "acme.com", "Jane Doe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.Found)
	assert.Equal(t, "jane.doe@acme.com", rec.Email)
}

func TestFindContacts_NameLookupMissIsRemembered(t *testing.T) {
	ctx := context.Background()
	c := cache.NewContactCache(cache.NewMemoryStore())
	finder := &fakeFinder{}
	o := newOrchestrator(newValidator(true), orchestrator.WithCache(c), orchestrator.WithEmailFinder(finder))

	for i := 0; i < 2; i++ {
		res, err := o.FindContacts(ctx, orchestrator.Request{Domain: "acme.com", AuthorName: "Nobody Known"})
		require.NoError(t, err)
		assert.Empty(t, res.Contacts)
	}
	assert.Equal(t, []string{"Nobody Known"}, finder.calls, "a billed miss is not repeated")
}

func TestFindContacts_ProfessionalNetwork(t *testing.T) {
	people := &fakePeople{people: []provider.Person{
		{FirstName: "Ann", LastName: "Lee", Title: "Editor in Chief", LinkedInURL: "https://linkedin.com/in/annlee"},
		{FullName: "Bo Park", Title: "Growth Lead"},
	}}
	finder := &fakeFinder{byName: map[string]provider.FoundEmail{
		"Ann Lee": {Email: "ann@acme.com"},
		"Bo Park": {Email: "bo@acme.com"},
	}}
	o := newOrchestrator(newValidator(true),
		orchestrator.WithPeopleSearcher(people),
		orchestrator.WithEmailFinder(finder),
		orchestrator.WithBudget(20),
	)

	res, err := o.FindContacts(context.Background(), orchestrator.Request{Domain: "acme.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann Lee", "Bo Park"}, finder.calls)
	assert.Equal(t, 1+2+2, res.TotalCostCents)
	assert.Equal(t, []string{orchestrator.StagePeople}, res.SourcesUsed)

	require.Len(t, res.Contacts, 2)
	ann := res.Contacts[0]
	assert.Equal(t, "ann@acme.com", ann.Email)
	assert.Equal(t, contact.SourceLinkedInSearch, ann.Source)
	assert.Equal(t, "https://linkedin.com/in/annlee", ann.LinkedInURL)
	assert.Equal(t, 100, ann.ConfidenceScore)
	assert.Equal(t, "bo@acme.com", res.Contacts[1].Email)
}

func TestFindContacts_AIExtractionIsLastResort(t *testing.T) {
	ex := &fakeExtractor{cands: []contact.Candidate{
		{Email: "sam@acme.com", Name: "Sam Roe", Title: "Publisher", Source: contact.SourceAIExtracted},
		{Email: "sam@elsewhere.org", Source: contact.SourceAIExtracted},
	}}
	ds := &fakeDomainSearch{enabled: true}
	o := newOrchestrator(newValidator(true), orchestrator.WithDomainSearcher(ds), orchestrator.WithContactExtractor(ex))

	res, err := o.FindContacts(context.Background(), orchestrator.Request{Domain: "acme.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, ds.calls)
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, 7, res.TotalCostCents)
	assert.Equal(t, []string{orchestrator.StageAIExtract}, res.SourcesUsed)
	require.NotEmpty(t, res.Contacts)
	assert.Equal(t, "sam@acme.com", res.Contacts[0].Email)
}

func TestFindContacts_DisabledAndFailingProvidersAreSkipped(t *testing.T) {
	disabled := &fakeDomainSearch{enabled: false}
	o := newOrchestrator(newValidator(true), orchestrator.WithDomainSearcher(disabled))
	res, err := o.FindContacts(context.Background(), orchestrator.Request{Domain: "acme.com"})
	require.NoError(t, err)
	assert.Equal(t, 0, disabled.calls)
	assert.Empty(t, res.Contacts)
	assert.Empty(t, res.SourcesUsed)

	for name, failure := range map[string]error{
		"disabled": provider.ErrDisabled,
		"failure":  errors.New("upstream 500"),
	} {
		t.Run(name, func(t *testing.T) {
			ds := &fakeDomainSearch{enabled: true, err: failure}
			o := newOrchestrator(newValidator(true), orchestrator.WithDomainSearcher(ds))
			res, err := o.FindContacts(context.Background(), orchestrator.Request{Domain: "acme.com"})
			require.NoError(t, err)
			assert.Equal(t, 1, ds.calls)
			assert.Equal(t, 0, res.TotalCostCents, "failed calls are not billed")
		})
	}
}

func TestFindContacts_RejectsEmptyDomain(t *testing.T) {
	o := newOrchestrator(newValidator(true))
	_, err := o.FindContacts(context.Background(), orchestrator.Request{Domain: "  "})
	require.Error(t, err)
}

// billing checks, at the moment each billable call starts, that the spend
// already recorded is under the cap.
type billing struct {
	t      *testing.T
	budget int
	spent  int
}

func (b *billing) enter(cost int) {
	require.Less(b.t, b.spent, b.budget, "stage entered with budget spent")
	require.LessOrEqual(b.t, b.spent+cost, b.budget, "stage entered without room for its cost")
	b.spent += cost
}

type billedSearch struct{ b *billing }

func (s billedSearch) DomainSearch(context.Context, string) ([]contact.Candidate, error) {
	s.b.enter(orchestrator.DefaultCosts().DomainSearch)
	return nil, nil
}

type billedFinder struct{ b *billing }

func (f billedFinder) FindEmail(context.Context, string, string) (provider.FoundEmail, error) {
	f.b.enter(orchestrator.DefaultCosts().FindEmail)
	return provider.FoundEmail{}, nil
}

type billedPeople struct{ b *billing }

func (p billedPeople) SearchPeople(context.Context, string, int) ([]provider.Person, error) {
	p.b.enter(orchestrator.DefaultCosts().PeopleSearch)
	return []provider.Person{{FullName: "A One"}, {FullName: "B Two"}, {FullName: "C Three"}}, nil
}

type billedExtractor struct{ b *billing }

func (e billedExtractor) ExtractContacts(context.Context, string, string) ([]contact.Candidate, error) {
	e.b.enter(orchestrator.DefaultCosts().AIExtract)
	return nil, nil
}

func TestFindContacts_NeverEntersStageOverBudget(t *testing.T) {
	for budget := 0; budget <= 16; budget++ {
		t.Run(fmt.Sprintf("budget_%d", budget), func(t *testing.T) {
			b := &billing{t: t, budget: budget}
			o := newOrchestrator(newValidator(true),
				orchestrator.WithBudget(budget),
				orchestrator.WithDomainSearcher(billedSearch{b}),
				orchestrator.WithEmailFinder(billedFinder{b}),
				orchestrator.WithPeopleSearcher(billedPeople{b}),
				orchestrator.WithContactExtractor(billedExtractor{b}),
			)
			res, err := o.FindContacts(context.Background(), orchestrator.Request{Domain: "acme.com", AuthorName: "Jane Doe"})
			require.NoError(t, err)
			assert.Equal(t, b.spent, res.TotalCostCents)
			assert.LessOrEqual(t, res.TotalCostCents, budget)
		})
	}
}
