// Package store holds in-process persistence used by local runs and tests.
// The PostgreSQL adapters live in store/postgres.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
)

// MemoryRepository keeps contacts per prospect, ignoring repeated emails the
// same way the database's unique constraint does.
type MemoryRepository struct {
	mu       sync.Mutex
	contacts map[string][]contact.Scored
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{contacts: make(map[string][]contact.Scored)}
}

func (r *MemoryRepository) Create(_ context.Context, prospectID string, c contact.Scored) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.contacts[prospectID] {
		if existing.Email == c.Email {
			return nil
		}
	}
	r.contacts[prospectID] = append(r.contacts[prospectID], c)
	return nil
}

// Contacts returns a copy of what was stored for prospectID.
func (r *MemoryRepository) Contacts(prospectID string) []contact.Scored {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contact.Scored(nil), r.contacts[prospectID]...)
}

func (r *MemoryRepository) ProspectIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.contacts))
	for id := range r.contacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MemoryBlocklist blocks exact addresses and whole domains.
type MemoryBlocklist struct {
	emails  map[string]struct{}
	domains map[string]struct{}
}

// NewMemoryBlocklist takes entries that are either an address or a bare domain.
func NewMemoryBlocklist(entries ...string) *MemoryBlocklist {
	b := &MemoryBlocklist{emails: map[string]struct{}{}, domains: map[string]struct{}{}}
	for _, e := range entries {
		if email := contact.NormalizeEmail(e); email != "" {
			b.emails[email] = struct{}{}
			continue
		}
		if d := contact.NormalizeDomain(e); d != "" {
			b.domains[d] = struct{}{}
		}
	}
	return b
}

func (b *MemoryBlocklist) IsEmailBlocked(_ context.Context, email string) (bool, error) {
	email = contact.NormalizeEmail(email)
	if _, ok := b.emails[email]; ok {
		return true, nil
	}
	_, ok := b.domains[contact.DomainOf(email)]
	return ok, nil
}
