package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/store"
)

func TestMemoryRepository_IgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	r := store.NewMemoryRepository()
	c := contact.Scored{Candidate: contact.Candidate{Email: "jane@acme.com"}}
	require.NoError(t, r.Create(ctx, "p1", c))
	require.NoError(t, r.Create(ctx, "p1", c))
	require.NoError(t, r.Create(ctx, "p2", c))

	assert.Len(t, r.Contacts("p1"), 1)
	assert.Equal(t, []string{"p1", "p2"}, r.ProspectIDs())
}

func TestMemoryBlocklist(t *testing.T) {
	ctx := context.Background()
	b := store.NewMemoryBlocklist("Jane@Acme.com", "blocked.org")

	for email, want := range map[string]bool{
		"jane@acme.com":      true,
		"bob@acme.com":       false,
		"anyone@blocked.org": true,
	} {
		got, err := b.IsEmailBlocked(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, want, got, email)
	}
}
